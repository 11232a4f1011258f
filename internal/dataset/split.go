package dataset

import (
	"fmt"

	apperrors "insightpipe/internal/errors"
)

// DefaultTestFraction is the share of rows held out for validation.
const DefaultTestFraction = 0.2

// Split divides ds sequentially: the first (1-testFraction) of rows train,
// the rest validate.
func Split(ds *Dataset, testFraction float64) (train, val *Dataset, err error) {
	if ds.NumRows() == 0 {
		return nil, nil, apperrors.NewValidationError("dataset is empty, cannot split")
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, apperrors.NewValidationError(
			fmt.Sprintf("test fraction must be in (0,1), got %g", testFraction))
	}

	cut := int(float64(ds.NumRows()) * (1 - testFraction))
	return ds.Slice(0, cut), ds.Slice(cut, ds.NumRows()), nil
}

// ColumnSummary describes one column of a Summary.
type ColumnSummary struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Nulls int    `json:"nulls"`
}

// Summary is a structural overview of a dataset.
type Summary struct {
	Rows    int             `json:"rows"`
	Columns []ColumnSummary `json:"columns"`
}

// Summarize reports row count plus kind and null count per column.
func Summarize(ds *Dataset) Summary {
	s := Summary{Rows: ds.NumRows(), Columns: make([]ColumnSummary, 0, ds.NumCols())}
	for _, c := range ds.cols {
		s.Columns = append(s.Columns, ColumnSummary{
			Name:  c.Name,
			Kind:  c.Kind().String(),
			Nulls: c.NullCount(),
		})
	}
	return s
}
