package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	apperrors "insightpipe/internal/errors"
)

// TagPrefix starts the integrity tag line at the end of a prompt.
const TagPrefix = "#HASH:"

// Document is an assembled prompt body plus the digest of that body.
type Document struct {
	Body string
	Hash string
}

// NewDocument tags body with its SHA-256 digest.
func NewDocument(body string) Document {
	return Document{Body: body, Hash: digest(body)}
}

// Text renders the body followed by the tag on its own line.
func (d Document) Text() string {
	return d.Body + "\n" + TagPrefix + d.Hash
}

func (d Document) String() string { return d.Text() }

func digest(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Verify splits a tagged prompt and checks the tag against the body. A
// missing or mismatched tag is a ValidationError.
func Verify(text string) (Document, error) {
	idx := strings.LastIndex(text, "\n"+TagPrefix)
	if idx < 0 {
		return Document{}, apperrors.NewValidationError("prompt integrity tag is missing")
	}
	doc := Document{Body: text[:idx], Hash: text[idx+1+len(TagPrefix):]}
	if want := digest(doc.Body); doc.Hash != want {
		return Document{}, apperrors.NewValidationError("prompt integrity tag does not match its body").
			WithContext("expected", want).
			WithContext("actual", doc.Hash)
	}
	return doc, nil
}

// Strip verifies text and returns the body without the tag.
func Strip(text string) (string, error) {
	doc, err := Verify(text)
	if err != nil {
		return "", err
	}
	return doc.Body, nil
}
