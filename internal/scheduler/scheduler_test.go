package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightpipe/internal/config"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/operations"
	"insightpipe/internal/shared/testutil"
)

type fakeRunner struct {
	mu      sync.Mutex
	state   operations.State
	err     error
	sources []string
}

func (f *fakeRunner) RunPipeline(_ context.Context, source string) (*operations.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sources = append(f.sources, source)
	return nil, nil
}

func (f *fakeRunner) State() operations.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

func TestNew(t *testing.T) {
	runner := &fakeRunner{state: operations.StateIdle}

	s, err := New(config.ScheduleConfig{}, runner, nil)
	require.NoError(t, err)
	assert.Nil(t, s, "empty cron disables scheduling")

	tests := []struct {
		name string
		cfg  config.ScheduleConfig
	}{
		{"bad spec", config.ScheduleConfig{Cron: "every tuesday", Source: "data"}},
		{"missing source", config.ScheduleConfig{Cron: "@hourly"}},
		{"too many fields", config.ScheduleConfig{Cron: "* * * * * * *", Source: "data"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, runner, nil)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig), "got %v", err)
		})
	}

	for _, spec := range []string{"@hourly", "0 */5 * * * *", "*/10 * * * *", "@every 30s"} {
		s, err := New(config.ScheduleConfig{Cron: spec, Source: "data"}, runner, nil)
		require.NoError(t, err, spec)
		assert.Equal(t, spec, s.Spec())
	}
}

func TestTick(t *testing.T) {
	runner := &fakeRunner{state: operations.StateIdle}
	logger, logs := testutil.NewLogger(t)
	s, err := New(config.ScheduleConfig{Cron: "@hourly", Source: "data/sales.csv"}, runner, logger)
	require.NoError(t, err)
	ctx := context.Background()

	s.Tick(ctx)
	assert.Equal(t, []string{"data/sales.csv"}, runner.sources)
	started, ok := logs.Last("scheduled_run_started")
	require.True(t, ok)
	assert.Equal(t, "scheduler", started.Attrs["component"])

	runner.state = operations.StateTraining
	s.Tick(ctx)
	assert.Equal(t, 1, runner.calls(), "busy pipeline skips the tick")
	skipped, ok := logs.Last("scheduled_run_skipped")
	require.True(t, ok)
	assert.Equal(t, "training", skipped.Attrs["state"])

	runner.state = operations.StateError
	s.Tick(ctx)
	assert.Equal(t, 2, runner.calls(), "runs resume after an error")

	runner.err = apperrors.NewPreconditionError("pipeline is running")
	assert.Nil(t, s.Tick(ctx))
	runner.err = apperrors.NewNotFoundError("dataset")
	assert.Nil(t, s.Tick(ctx))
	assert.Equal(t, 2, runner.calls())
	assert.Len(t, logs.Events("scheduled_run_failed"), 1)
	assert.Len(t, logs.Events("scheduled_run_skipped"), 2)
}

func TestStartStop(t *testing.T) {
	runner := &fakeRunner{state: operations.StateIdle}
	s, err := New(config.ScheduleConfig{Cron: "@every 1s", Source: "data"}, runner, nil)
	require.NoError(t, err)

	s.Start()
	s.Start()
	assert.Eventually(t, func() bool { return runner.calls() >= 1 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
	s.Stop()

	n := runner.calls()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, n, runner.calls(), "no ticks after Stop")
}
