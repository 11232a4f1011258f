package quality

import (
	"math"

	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
)

const (
	// OutlierColumn is the derived boolean flag added by DetectOutliers.
	OutlierColumn = "is_outlier"
	// NoisyScoreColumn and NoisyColumn are added by FlagNoisy.
	NoisyScoreColumn = "noisy_score"
	NoisyColumn      = "is_noisy"

	// DefaultNoisyThreshold flags rows whose mean standardized distance exceeds it.
	DefaultNoisyThreshold = 2.5

	iqrFactor = 1.5
)

// OutlierMask returns one flag per row. Nulls are never flagged and a
// constant column flags nothing.
func OutlierMask(ds *dataset.Dataset, method string, threshold float64) ([]bool, error) {
	if err := checkMethod(method); err != nil {
		return nil, err
	}

	mask := make([]bool, ds.NumRows())
	for _, name := range ds.NumericColumnNames() {
		if name == OutlierColumn {
			continue
		}
		col, _ := ds.Column(name)
		values := col.Floats()
		present := col.Numbers()

		switch method {
		case MethodZScore:
			m, sd := mean(present), stdDev(present, 0)
			if sd == 0 || math.IsNaN(sd) {
				continue
			}
			for i, v := range values {
				if !math.IsNaN(v) && math.Abs((v-m)/sd) > threshold {
					mask[i] = true
				}
			}
		case MethodIQR:
			q1, q3 := quantile(present, 0.25), quantile(present, 0.75)
			iqr := q3 - q1
			lo, hi := q1-iqrFactor*iqr, q3+iqrFactor*iqr
			for i, v := range values {
				if !math.IsNaN(v) && (v < lo || v > hi) {
					mask[i] = true
				}
			}
		}
	}
	return mask, nil
}

// DetectOutliers returns ds with an is_outlier column. For zscore a row is
// flagged when any numeric column's |z| exceeds threshold; for iqr when any
// value falls outside [Q1-1.5·IQR, Q3+1.5·IQR] and threshold is unused.
func DetectOutliers(ds *dataset.Dataset, method string, threshold float64) (*dataset.Dataset, error) {
	mask, err := OutlierMask(ds, method, threshold)
	if err != nil {
		return nil, err
	}
	return ds.WithColumn(boolColumn(OutlierColumn, mask))
}

// CountOutliers returns the number of rows flagged in ds's outlier column.
func CountOutliers(ds *dataset.Dataset) int {
	col, ok := ds.Column(OutlierColumn)
	if !ok {
		return 0
	}
	n := 0
	for _, c := range col.Cells {
		if v, ok := c.Bool(); ok && v {
			n++
		}
	}
	return n
}

// RemoveAnomalies drops flagged rows and the flag column. Without a flag
// column ds is returned unchanged.
func RemoveAnomalies(ds *dataset.Dataset) *dataset.Dataset {
	col, ok := ds.Column(OutlierColumn)
	if !ok {
		return ds
	}
	keep := make([]int, 0, ds.NumRows())
	for i, c := range col.Cells {
		if v, ok := c.Bool(); !ok || !v {
			keep = append(keep, i)
		}
	}
	return ds.SelectRows(keep).WithoutColumn(OutlierColumn)
}

// FlagNoisy adds noisy_score, the mean over numeric columns of
// |x-mean|/(sample std + 1e-8), and is_noisy where the score exceeds threshold.
func FlagNoisy(ds *dataset.Dataset, threshold float64) (*dataset.Dataset, error) {
	var numeric []dataset.Column
	for _, name := range ds.NumericColumnNames() {
		if name == NoisyScoreColumn {
			continue
		}
		col, _ := ds.Column(name)
		numeric = append(numeric, col)
	}
	if len(numeric) == 0 {
		return nil, apperrors.NewValidationError("no numeric columns to score for noise")
	}

	sums := make([]float64, ds.NumRows())
	counts := make([]int, ds.NumRows())
	for _, col := range numeric {
		present := col.Numbers()
		m, sd := mean(present), stdDev(present, 1)
		if math.IsNaN(sd) {
			sd = 0
		}
		for i, v := range col.Floats() {
			if math.IsNaN(v) {
				continue
			}
			sums[i] += math.Abs(v-m) / (sd + 1e-8)
			counts[i]++
		}
	}

	scores := make([]float64, ds.NumRows())
	flags := make([]bool, ds.NumRows())
	for i := range scores {
		if counts[i] == 0 {
			scores[i] = math.NaN()
			continue
		}
		scores[i] = sums[i] / float64(counts[i])
		flags[i] = scores[i] > threshold
	}

	out, err := ds.WithColumn(dataset.NumberColumn(NoisyScoreColumn, scores...))
	if err != nil {
		return nil, err
	}
	return out.WithColumn(boolColumn(NoisyColumn, flags))
}

func boolColumn(name string, flags []bool) dataset.Column {
	cells := make([]dataset.Cell, len(flags))
	for i, f := range flags {
		cells[i] = dataset.BoolCell(f)
	}
	return dataset.Column{Name: name, Cells: cells}
}
