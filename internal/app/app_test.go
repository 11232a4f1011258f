package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightpipe/internal/backend/backendtest"
	"insightpipe/internal/config"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/operations"
	"insightpipe/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.BaseDir = t.TempDir()
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Server.RateLimit.Enabled = false
	cfg.Report.Formats = []string{"excel"}
	cfg.History.Backend = "sqlite"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func writeDataset(t *testing.T, a *Application, name string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Price,Qty\n")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "%d,%d\n", 20+i, i+1)
	}
	path := filepath.Join(a.Paths.DataDir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func TestNew_WiresComponents(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, WithLogger(quietLogger()), WithBackend(backendtest.New()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.DirExists(t, a.Paths.CheckpointsDir)
	assert.DirExists(t, a.Paths.ReportsDir)
	assert.Equal(t, filepath.Join(cfg.Paths.BaseDir, "data", "history.db"), a.Paths.HistoryDB)
	assert.FileExists(t, a.Paths.HistoryDB)
	assert.Nil(t, a.Scheduler, "no cron configured")
	assert.Equal(t, operations.StateIdle, a.Controller.State())
	assert.Equal(t, ":0", a.Server.Addr)
	assert.Empty(t, a.Addr())
}

func TestNew_InvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Cron = "not a cron"
	cfg.Schedule.Source = "data"

	_, err := New(cfg, WithLogger(quietLogger()), WithBackend(backendtest.New()))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestNew_UnconfiguredBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Backend = "memory"
	a, err := New(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	path := writeDataset(t, a, "prices.csv")
	res, err := a.Controller.DelegateNamed(context.Background(), string(operations.TaskClean),
		json.RawMessage(fmt.Sprintf(`{"source":%q}`, path)))
	require.NoError(t, err, "cleaning never reaches the model")
	assert.FileExists(t, res.Path)

	run, err := a.Controller.RunPipeline(context.Background(), path)
	require.NoError(t, err)
	result, err := run.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, operations.StageAnalyze, result.FailedStage)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeModelBackend))
}

func TestStartStop_ServesAPI(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, WithLogger(quietLogger()), WithBackend(backendtest.New()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx, cancel))
	require.NoError(t, a.Start(ctx, cancel), "second start is a no-op")
	addr := a.Addr()
	require.NotEmpty(t, addr)
	base := "http://" + addr

	resp, err := http.Get(base + "/api/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, VERSION, health["version"])

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	var hello map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connection", hello["type"])

	path := writeDataset(t, a, "sales.csv")
	body, _ := json.Marshal(map[string]string{"source": path})
	resp, err = http.Post(base+"/api/pipeline/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var accepted map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode, accepted)
	runID, _ := accepted["run_id"].(string)
	require.NotEmpty(t, runID)

	var sawSnapshot bool
	for !sawSnapshot {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		sawSnapshot = msg["type"] == operations.EventPipelineSnapshot
	}

	require.Eventually(t, func() bool {
		r, err := a.Controller.GetRun(context.Background(), runID)
		return err == nil && r.Status == operations.RunStatusCompleted
	}, 15*time.Second, 20*time.Millisecond)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(metrics), "insight_pipeline_runs_total")
	assert.Contains(t, string(metrics), "http_requests_total")

	require.NoError(t, a.Stop(context.Background()))

	store, err := storage.OpenSQLiteRunStore(a.Paths.HistoryDB, 0, nil)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1, "history survives shutdown")
	assert.Equal(t, runID, runs[0].ID)
}

func TestStart_PortInUse(t *testing.T) {
	first, err := New(testConfig(t), WithLogger(quietLogger()), WithBackend(backendtest.New()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, first.Start(ctx, cancel))
	defer first.Stop(context.Background())

	cfg := testConfig(t)
	_, port, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	cfg.Server.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	second, err := New(cfg, WithLogger(quietLogger()), WithBackend(backendtest.New()))
	require.NoError(t, err)
	defer second.Close(context.Background())

	assert.Error(t, second.Start(ctx, cancel))
}
