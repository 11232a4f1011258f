package http

import (
	"context"
	"encoding/json"

	"insightpipe/internal/operations"
	"insightpipe/internal/registry"
)

// PipelineService is the controller surface used by the API.
type PipelineService interface {
	State() operations.State
	Progress() operations.Progress
	MonitorProgress() string
	LastError() error
	Start(ctx context.Context, req operations.RunRequest) (*operations.Run, error)
	Runs(ctx context.Context, limit int) ([]operations.RunResult, error)
	GetRun(ctx context.Context, id string) (operations.RunResult, error)
	Reset(ctx context.Context) error
	DelegateNamed(ctx context.Context, kind string, params json.RawMessage) (operations.TaskResult, error)
}

// ModelRegistry is the registry surface used by the API.
type ModelRegistry interface {
	Versions() ([]registry.ModelVersion, error)
	Current() (string, error)
	Rollback(ctx context.Context) (*registry.Checkpoint, error)
	DeleteOld(ctx context.Context, keepLast int) ([]string, error)
	Compare(older, newer string) (map[string]float64, error)
}

var (
	_ PipelineService = (*operations.Controller)(nil)
	_ ModelRegistry   = (*registry.Registry)(nil)
)
