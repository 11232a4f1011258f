package report

import (
	"fmt"
	"maps"
	"slices"

	apperrors "insightpipe/internal/errors"
)

// Metric names produced by Evaluate.
const (
	MetricAccuracy  = "accuracy"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricF1        = "f1_score"
)

// ModelResults pairs model predictions with the expected labels.
type ModelResults struct {
	Predictions []string `json:"predictions"`
	Labels      []string `json:"labels"`
}

// Empty reports whether no results were supplied.
func (r ModelResults) Empty() bool {
	return len(r.Predictions) == 0 && len(r.Labels) == 0
}

// Evaluate computes accuracy and support-weighted precision, recall and F1.
// A class never predicted contributes precision 0, and a zero
// precision+recall contributes F1 0.
func Evaluate(r ModelResults) (map[string]float64, error) {
	if len(r.Predictions) == 0 || len(r.Labels) == 0 {
		return nil, apperrors.NewValidationError("model results need both predictions and labels")
	}
	if len(r.Predictions) != len(r.Labels) {
		return nil, apperrors.NewValidationError(fmt.Sprintf(
			"predictions (%d) and labels (%d) differ in length", len(r.Predictions), len(r.Labels)))
	}

	support := make(map[string]int)
	predicted := make(map[string]int)
	hits := make(map[string]int)
	correct := 0
	for i, label := range r.Labels {
		pred := r.Predictions[i]
		support[label]++
		predicted[pred]++
		if pred == label {
			hits[label]++
			correct++
		}
	}

	n := float64(len(r.Labels))
	var precision, recall, f1 float64
	for _, label := range slices.Sorted(maps.Keys(support)) {
		s := support[label]
		var p, rc, f float64
		if predicted[label] > 0 {
			p = float64(hits[label]) / float64(predicted[label])
		}
		rc = float64(hits[label]) / float64(s)
		if p+rc > 0 {
			f = 2 * p * rc / (p + rc)
		}
		w := float64(s) / n
		precision += w * p
		recall += w * rc
		f1 += w * f
	}

	return map[string]float64{
		MetricAccuracy:  float64(correct) / n,
		MetricPrecision: precision,
		MetricRecall:    recall,
		MetricF1:        f1,
	}, nil
}

// Summarize renders metrics as one sentence.
func Summarize(m map[string]float64) string {
	return fmt.Sprintf("The model reached an accuracy of %.2f, average precision of %.2f, recall of %.2f and an F1-score of %.2f.",
		m[MetricAccuracy], m[MetricPrecision], m[MetricRecall], m[MetricF1])
}
