package operations

import (
	"context"
	"sync"
	"time"

	"insightpipe/internal/report"
)

// RunStatus is the outcome of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunRequest starts a pipeline run.
type RunRequest struct {
	// Source is a dataset file or a directory; a directory resolves to its
	// newest dataset.
	Source string `json:"source" validate:"required"`
	// Results, when present, are evaluated into the report metrics.
	Results report.ModelResults `json:"results"`
	// Metadata is merged into the report metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Charts are image paths embedded in the report.
	Charts []string `json:"charts,omitempty"`
}

// RunResult is the record of one run. It is stored in the RunStore and
// returned by Run.Wait.
type RunResult struct {
	ID            string     `json:"id"`
	Source        string     `json:"source"`
	Dataset       string     `json:"dataset,omitempty"`
	Status        RunStatus  `json:"status"`
	QualityScore  float64    `json:"quality_score"`
	Analysis      string     `json:"analysis,omitempty"`
	ProcessedPath string     `json:"processed_path,omitempty"`
	Version       string     `json:"version,omitempty"`
	ReportPaths   []string   `json:"report_paths,omitempty"`
	FailedFormats []string   `json:"failed_formats,omitempty"`
	FailedStage   StageID    `json:"failed_stage,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Duration returns the wall time of a finished run.
func (r RunResult) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Run is the handle of an in-flight pipeline run.
type Run struct {
	id     string
	source string
	done   chan struct{}

	once   sync.Once
	result RunResult
	err    error
}

func newRun(id, source string) *Run {
	return &Run{id: id, source: source, done: make(chan struct{})}
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Source returns the requested dataset source.
func (r *Run) Source() string { return r.source }

// Done is closed once the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx ends. A failed run returns its
// result together with the stage error.
func (r *Run) Wait(ctx context.Context) (*RunResult, error) {
	select {
	case <-r.done:
		res := r.result
		return &res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel is reserved for mid-run cancellation and always returns
// ErrCancelUnsupported.
func (r *Run) Cancel() error { return ErrCancelUnsupported }

func (r *Run) resolve(result RunResult, err error) {
	r.once.Do(func() {
		r.result = result
		r.err = err
		close(r.done)
	})
}
