package operations

import (
	"context"
	"sync"

	apperrors "insightpipe/internal/errors"
)

// DefaultHistoryLimit bounds the in-memory run history.
const DefaultHistoryLimit = 100

// RunStore persists run records. SaveRun upserts by run id; ListRuns
// returns the newest runs first.
type RunStore interface {
	SaveRun(ctx context.Context, run RunResult) error
	GetRun(ctx context.Context, id string) (RunResult, error)
	ListRuns(ctx context.Context, limit int) ([]RunResult, error)
}

// MemoryRunStore is an in-memory RunStore that keeps the most recent runs.
type MemoryRunStore struct {
	mu    sync.RWMutex
	runs  map[string]RunResult
	order []string
	limit int
}

// NewMemoryRunStore creates a store holding at most limit runs. A
// non-positive limit uses DefaultHistoryLimit.
func NewMemoryRunStore(limit int) *MemoryRunStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryRunStore{
		runs:  make(map[string]RunResult),
		limit: limit,
	}
}

// SaveRun creates or replaces a run record
func (s *MemoryRunStore) SaveRun(ctx context.Context, run RunResult) error {
	if run.ID == "" {
		return apperrors.NewValidationError("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = copyResult(run)

	for len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryRunStore) GetRun(ctx context.Context, id string) (RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return RunResult{}, apperrors.NewNotFoundError("run " + id)
	}
	return copyResult(run), nil
}

// ListRuns returns up to limit runs, newest first. A non-positive limit
// returns all of them.
func (s *MemoryRunStore) ListRuns(ctx context.Context, limit int) ([]RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]RunResult, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, copyResult(s.runs[s.order[i]]))
	}
	return result, nil
}

func copyResult(r RunResult) RunResult {
	if r.ReportPaths != nil {
		r.ReportPaths = append([]string(nil), r.ReportPaths...)
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	return r
}
