package registry

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/files"
)

// ManifestFile is written into every checkpoint directory.
const ManifestFile = "checkpoint.json"

// ModelVersion describes one checkpoint.
type ModelVersion struct {
	Name      string             `json:"name"`
	CreatedAt time.Time          `json:"created_at"`
	Path      string             `json:"-"`
	Parent    string             `json:"parent,omitempty"`
	Digests   map[string]string  `json:"digests"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// digest returns the hex BLAKE2b-256 of data.
func digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func readManifest(dir string) (ModelVersion, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return ModelVersion{}, apperrors.NewCorruptionError("checkpoint manifest missing in "+dir, err)
		}
		return ModelVersion{}, apperrors.NewStorageError("failed to read manifest", err)
	}
	var v ModelVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return ModelVersion{}, apperrors.NewCorruptionError("checkpoint manifest unreadable in "+dir, err)
	}
	v.Path = dir
	return v, nil
}

func writeManifest(dir string, v ModelVersion) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return files.WriteFileAtomic(filepath.Join(dir, ManifestFile), data, 0644)
}

// validName accepts names usable as a single directory or file component.
func validName(kind, name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return apperrors.NewValidationError(fmt.Sprintf("%s name %q is invalid", kind, name))
	case strings.ContainsAny(name, `/\`):
		return apperrors.NewValidationError(fmt.Sprintf("%s name %q must not contain path separators", kind, name))
	case strings.HasPrefix(name, "."):
		return apperrors.NewValidationError(fmt.Sprintf("%s name %q must not start with a dot", kind, name))
	}
	return nil
}
