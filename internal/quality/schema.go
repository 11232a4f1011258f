package quality

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
)

// Schema lists the columns a dataset must carry.
type Schema struct {
	Columns []string `json:"columns"`
}

// LoadSchema reads a JSON schema file. A missing file returns a nil schema,
// which makes validation a no-op.
func LoadSchema(path string) (*Schema, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewStorageError("failed to read schema", err)
	}

	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, apperrors.NewConfigError("malformed schema "+path, err)
	}
	return &schema, nil
}

// ValidateStructure fails with a ValidationError naming every expected
// column missing from ds. No expected columns means nothing to check.
func ValidateStructure(ds *dataset.Dataset, expected []string) error {
	var missing []string
	for _, name := range expected {
		if !ds.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError(
			fmt.Sprintf("missing columns: %s", strings.Join(missing, ", "))).
			WithContext("missing", missing)
	}
	return nil
}
