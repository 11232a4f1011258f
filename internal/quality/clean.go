package quality

import (
	"strings"

	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
)

// NormalizeName trims, lowercases and replaces spaces with underscores.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Clean normalizes column names, fills numeric nulls, optionally drops
// duplicate rows and, when the policy says so, drops outlier rows. Nulls
// are filled before outliers are evaluated. Non-numeric nulls stay null.
func Clean(ds *dataset.Dataset, policy CleaningPolicy) (*dataset.Dataset, error) {
	if ds.NumCols() == 0 {
		return nil, apperrors.NewValidationError("dataset has no columns")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	out, err := ds.RenameColumns(NormalizeName)
	if err != nil {
		return nil, err
	}

	if out, err = FillNulls(out, policy.NullFillStrategy); err != nil {
		return nil, err
	}

	if policy.Dedupe {
		out = DropDuplicates(out)
	}

	if policy.RemoveOutliers {
		mask, err := OutlierMask(out, policy.OutlierMethod, policy.OutlierThreshold)
		if err != nil {
			return nil, err
		}
		keep := make([]int, 0, len(mask))
		for i, flagged := range mask {
			if !flagged {
				keep = append(keep, i)
			}
		}
		out = out.SelectRows(keep)
	}

	return out, nil
}

// FillNulls replaces nulls in numeric columns with the mean or median of
// that column's non-null values.
func FillNulls(ds *dataset.Dataset, strategy string) (*dataset.Dataset, error) {
	var fill func([]float64) float64
	switch strategy {
	case FillMean:
		fill = mean
	case FillMedian:
		fill = median
	default:
		return nil, apperrors.NewConfigError("unknown null fill strategy "+strategy, nil)
	}

	cols := ds.Columns()
	for i, col := range cols {
		if !col.IsNumeric() || col.NullCount() == 0 {
			continue
		}
		value := dataset.NumberCell(fill(col.Numbers()))
		for r, c := range col.Cells {
			if c.IsNull() {
				col.Cells[r] = value
			}
		}
		cols[i] = col
	}
	return dataset.New(cols...)
}

// DropDuplicates keeps the first occurrence of each distinct row.
func DropDuplicates(ds *dataset.Dataset) *dataset.Dataset {
	seen := make(map[string]struct{}, ds.NumRows())
	keep := make([]int, 0, ds.NumRows())
	for r := 0; r < ds.NumRows(); r++ {
		key := ds.RowKey(r)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keep = append(keep, r)
	}
	if len(keep) == ds.NumRows() {
		return ds
	}
	return ds.SelectRows(keep)
}
