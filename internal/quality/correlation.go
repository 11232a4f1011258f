package quality

import (
	"fmt"
	"math"

	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
)

const (
	CorrelationPearson  = "pearson"
	CorrelationSpearman = "spearman"

	// DefaultMulticollinearityThreshold marks column pairs as redundant.
	DefaultMulticollinearityThreshold = 0.9
)

// CorrelationMatrix is a symmetric matrix over numeric columns. Undefined
// entries (constant columns, fewer than two shared rows) are NaN.
type CorrelationMatrix struct {
	Columns []string    `json:"columns"`
	Values  [][]float64 `json:"values"`
}

// At returns the correlation between columns i and j.
func (m CorrelationMatrix) At(i, j int) float64 { return m.Values[i][j] }

// CorrelatedPair is one entry of a multicollinearity report.
type CorrelatedPair struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Value float64 `json:"value"`
}

// ComputeCorrelations correlates every pair of numeric columns using the
// rows where both are present.
func ComputeCorrelations(ds *dataset.Dataset, method string) (CorrelationMatrix, error) {
	if method == "" {
		method = CorrelationPearson
	}
	if method != CorrelationPearson && method != CorrelationSpearman {
		return CorrelationMatrix{}, apperrors.NewConfigError(
			fmt.Sprintf("unknown correlation method %q, use pearson or spearman", method), nil)
	}

	var names []string
	var series [][]float64
	for _, name := range ds.NumericColumnNames() {
		col, _ := ds.Column(name)
		names = append(names, name)
		series = append(series, col.Floats())
	}

	n := len(names)
	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			r := correlate(series[i], series[j], method)
			values[i][j], values[j][i] = r, r
		}
	}
	return CorrelationMatrix{Columns: names, Values: values}, nil
}

func correlate(a, b []float64, method string) float64 {
	x := make([]float64, 0, len(a))
	y := make([]float64, 0, len(b))
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		x = append(x, a[i])
		y = append(y, b[i])
	}
	if method == CorrelationSpearman {
		x, y = ranks(x), ranks(y)
	}
	return pearson(x, y)
}

// DetectMulticollinearity scans the strict upper triangle and reports pairs
// with threshold < |value| < 1. Each unordered pair appears once, in column order.
func DetectMulticollinearity(m CorrelationMatrix, threshold float64) []CorrelatedPair {
	var pairs []CorrelatedPair
	for i := range m.Columns {
		for j := i + 1; j < len(m.Columns); j++ {
			v := m.Values[i][j]
			if math.IsNaN(v) {
				continue
			}
			if abs := math.Abs(v); abs > threshold && abs < 1.0 {
				pairs = append(pairs, CorrelatedPair{A: m.Columns[i], B: m.Columns[j], Value: v})
			}
		}
	}
	return pairs
}
