package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightpipe/internal/backend"
	"insightpipe/internal/backend/backendtest"
	"insightpipe/internal/config"
	"insightpipe/internal/memory"
	"insightpipe/internal/operations"
	"insightpipe/internal/prompt"
	"insightpipe/internal/quality"
	"insightpipe/internal/registry"
	"insightpipe/internal/report"
)

type apiHarness struct {
	handler  http.Handler
	ctrl     *operations.Controller
	registry *registry.Registry
	fake     *backendtest.Fake
	dataDir  string
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()
	dir := t.TempDir()
	paths := &config.Paths{
		BaseDir:        dir,
		DataDir:        filepath.Join(dir, "data"),
		ProcessedDir:   filepath.Join(dir, "processed"),
		CheckpointsDir: filepath.Join(dir, "checkpoints"),
		ReportsDir:     filepath.Join(dir, "reports"),
		EvaluationDir:  filepath.Join(dir, "evaluation"),
		MemoryDir:      filepath.Join(dir, "memory"),
	}
	require.NoError(t, os.MkdirAll(paths.DataDir, 0755))

	qp, err := quality.NewPipeline(quality.DefaultPolicy(), 0.9, nil, nil)
	require.NoError(t, err)
	fake := backendtest.New()
	reg, err := registry.Open(paths.CheckpointsDir, registry.WithEvaluationDir(paths.EvaluationDir))
	require.NoError(t, err)
	mem, err := memory.NewFileStore(paths.MemoryDir, nil)
	require.NoError(t, err)

	settings := operations.Settings{
		SessionID:      "api",
		TestFraction:   0.2,
		Generate:       backend.GenerateOptions{MaxTokens: 32},
		Train:          backend.TrainParams{Epochs: 1, BatchSize: 2},
		ReportFormats:  []string{"excel"},
		ReportFilename: "report",
	}
	ctrl, err := operations.NewController(operations.Dependencies{
		Quality:  qp,
		Prompts:  prompt.NewAssembler(config.Default().Prompt, fake, settings.Generate, nil),
		Backend:  fake,
		Registry: reg,
		Memory:   mem,
		Reports: func() *report.Builder {
			return report.NewBuilder("API report",
				report.WithOutputDir(paths.ReportsDir),
				report.WithExporter(report.FormatExcel, report.NewExcelExporter()))
		},
		Paths: paths,
	}, settings)
	require.NoError(t, err)

	cfg := config.Default()
	return &apiHarness{
		handler: NewRouter(RouterConfig{
			Version:  "test",
			Server:   cfg.Server,
			Pipeline: ctrl,
			Models:   reg,
			Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("# metrics"))
			}),
		}),
		ctrl:     ctrl,
		registry: reg,
		fake:     fake,
		dataDir:  paths.DataDir,
	}
}

func (h *apiHarness) writeCSV(t *testing.T, name string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Price,Qty\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "%d,%d\n", 10+i, i+1)
	}
	path := filepath.Join(h.dataDir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func (h *apiHarness) do(t *testing.T, method, target string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (h *apiHarness) waitSettled(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return !h.ctrl.State().Busy() }, 10*time.Second, 10*time.Millisecond)
}

func TestHealthAndState(t *testing.T) {
	h := newAPI(t)

	rec, body := h.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "idle", body["pipeline_state"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, body = h.do(t, http.MethodGet, "/api/pipeline/state", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, "pipeline state: idle", body["monitor"])

	rec, _ = h.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, "# metrics", rec.Body.String())

	rec, body = h.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "/errors/not-found", body["type"])
}

func TestStartRun(t *testing.T) {
	h := newAPI(t)
	path := h.writeCSV(t, "sales.csv")

	rec, body := h.do(t, http.MethodPost, "/api/pipeline/runs", map[string]string{"source": path})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	runID, _ := body["run_id"].(string)
	require.NotEmpty(t, runID)
	h.waitSettled(t)

	rec, body = h.do(t, http.MethodGet, "/api/pipeline/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.NotEmpty(t, body["version"])

	rec, body = h.do(t, http.MethodGet, "/api/pipeline/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = h.do(t, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	versions, _ := body["versions"].([]interface{})
	assert.Len(t, versions, 1)
	assert.NotEmpty(t, body["current"])
}

func TestStartRun_Errors(t *testing.T) {
	h := newAPI(t)

	rec, body := h.do(t, http.MethodPost, "/api/pipeline/runs", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", body["error_type"])

	rec, _ = h.do(t, http.MethodPost, "/api/pipeline/runs", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/pipeline/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/pipeline/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A missing dataset is accepted, then fails in the load stage.
	rec, body = h.do(t, http.MethodPost, "/api/pipeline/runs", map[string]string{"source": filepath.Join(h.dataDir, "absent.csv")})
	require.Equal(t, http.StatusAccepted, rec.Code)
	h.waitSettled(t)

	_, body = h.do(t, http.MethodGet, "/api/pipeline/runs/"+body["run_id"].(string), nil)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "load", body["failed_stage"])

	_, body = h.do(t, http.MethodGet, "/api/pipeline/state", nil)
	assert.Equal(t, "error", body["state"])
	assert.NotEmpty(t, body["last_error"])

	rec, body = h.do(t, http.MethodPost, "/api/pipeline/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", body["state"])
}

func TestStartRun_Busy(t *testing.T) {
	h := newAPI(t)
	path := h.writeCSV(t, "sales.csv")
	block := make(chan struct{})
	h.fake.Block = block

	rec, _ := h.do(t, http.MethodPost, "/api/pipeline/runs", map[string]string{"source": path})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, body := h.do(t, http.MethodPost, "/api/pipeline/runs", map[string]string{"source": path})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "PRECONDITION", body["error_type"])

	rec, _ = h.do(t, http.MethodPost, "/api/pipeline/reset", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(block)
	h.waitSettled(t)
}

func TestDelegateTask(t *testing.T) {
	h := newAPI(t)
	path := h.writeCSV(t, "sales.csv")

	rec, body := h.do(t, http.MethodPost, "/api/pipeline/tasks", map[string]interface{}{
		"kind":   "clean_data",
		"params": map[string]string{"source": path, "output_name": "clean.csv"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "clean_data", body["kind"])
	assert.FileExists(t, body["path"].(string))

	rec, body = h.do(t, http.MethodPost, "/api/pipeline/tasks", map[string]interface{}{"kind": "launch_rocket"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNKNOWN_TASK", body["error_type"])

	rec, _ = h.do(t, http.MethodPost, "/api/pipeline/tasks", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModels(t *testing.T) {
	h := newAPI(t)
	ctx := t.Context()

	rec, _ := h.do(t, http.MethodPost, "/api/models/rollback", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "rollback needs two versions")

	for _, name := range []string{"v1", "v2", "v3"} {
		_, err := h.registry.Save(ctx, &backend.Artifact{Files: map[string][]byte{"model.bin": []byte(name)}}, name)
		require.NoError(t, err)
	}
	require.NoError(t, h.registry.RecordEvaluation(ctx, "v1", map[string]float64{"loss": 0.5}))
	require.NoError(t, h.registry.RecordEvaluation(ctx, "v3", map[string]float64{"loss": 0.2}))

	rec, body := h.do(t, http.MethodGet, "/api/models/compare?old=v1&new=v3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, -0.3, body["deltas"].(map[string]interface{})["loss"], 1e-9)

	rec, _ = h.do(t, http.MethodGet, "/api/models/compare?old=v1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = h.do(t, http.MethodGet, "/api/models/compare?old=v1&new=v9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = h.do(t, http.MethodPost, "/api/models/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v2", body["current"])

	rec, _ = h.do(t, http.MethodPost, "/api/models/prune", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "keep_last is required")
	rec, _ = h.do(t, http.MethodPost, "/api/models/prune", map[string]int{"keep_last": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = h.do(t, http.MethodPost, "/api/models/prune", map[string]int{"keep_last": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["removed"], 2)

	names, err := h.registry.List()
	require.NoError(t, err)
	assert.Len(t, names, 1)
}
