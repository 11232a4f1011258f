package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogCapture(t *testing.T) {
	logger, logs := NewLogger(t)
	scoped := logger.With(slog.String("component", "scheduler"))

	scoped.Info("scheduled_run_started", slog.String("run_id", "r1"))
	scoped.WithGroup("http").Warn("request_completed", slog.Int("status", 503))
	logger.Info("scheduled_run_started", slog.String("run_id", "r2"))

	assert.Len(t, logs.Events("scheduled_run_started"), 2)

	last, ok := logs.Last("scheduled_run_started")
	require.True(t, ok)
	assert.Equal(t, "r2", last.Attrs["run_id"])
	assert.NotContains(t, last.Attrs, "component")

	first := logs.Events("scheduled_run_started")[0]
	assert.Equal(t, "scheduler", first.Attrs["component"])

	warn, ok := logs.Last("request_completed")
	require.True(t, ok)
	assert.Equal(t, slog.LevelWarn, warn.Level)
	assert.Equal(t, int64(503), warn.Attrs["http.status"])

	logs.Reset()
	assert.Empty(t, logs.Records())
	_, ok = logs.Last("request_completed")
	assert.False(t, ok)
}
