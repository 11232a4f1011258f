package operations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"insightpipe/internal/backend"
	"insightpipe/internal/backend/backendtest"
	"insightpipe/internal/config"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/memory"
	"insightpipe/internal/prompt"
	"insightpipe/internal/quality"
	"insightpipe/internal/registry"
	"insightpipe/internal/report"
)

// fileExporter records exported documents and writes a stub file.
type fileExporter struct {
	ext string
	err error

	mu   sync.Mutex
	docs []report.Document
}

func (e *fileExporter) Extension() string { return e.ext }

func (e *fileExporter) Export(ctx context.Context, doc report.Document, path string) error {
	e.mu.Lock()
	e.docs = append(e.docs, doc)
	e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(doc.Title), 0644)
}

func (e *fileExporter) last(t *testing.T) report.Document {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.docs)
	return e.docs[len(e.docs)-1]
}

// hubRecorder collects broadcast states.
type hubRecorder struct {
	mu     sync.Mutex
	states []string
}

func (h *hubRecorder) BroadcastUpdate(eventType, step, status string, metadata interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if eventType == EventPipelineSnapshot {
		h.states = append(h.states, status)
	}
}

// transitions returns the broadcast states with consecutive repeats removed.
func (h *hubRecorder) transitions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, s := range h.states {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	return out
}

type harness struct {
	ctrl     *Controller
	fake     *backendtest.Fake
	pdf      *fileExporter
	registry *registry.Registry
	memory   *memory.FileStore
	paths    *config.Paths
	dataDir  string
}

func newHarness(t *testing.T, schema *quality.Schema, opts ...Option) *harness {
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
	fake.Responses = []string{"analysis text", "summary text"}
	model := backend.Instrument(fake, nil, nil)

	reg, err := registry.Open(paths.CheckpointsDir, registry.WithEvaluationDir(paths.EvaluationDir))
	require.NoError(t, err)
	mem, err := memory.NewFileStore(paths.MemoryDir, nil)
	require.NoError(t, err)

	pdf := &fileExporter{ext: ".pdf"}
	reports := func() *report.Builder {
		return report.NewBuilder("Test report",
			report.WithOutputDir(paths.ReportsDir),
			report.WithExporter(report.FormatPDF, pdf))
	}

	settings := Settings{
		SessionID:      "s1",
		TestFraction:   0.2,
		Generate:       backend.GenerateOptions{MaxTokens: 64, Temperature: 0.1},
		Train:          backend.TrainParams{Epochs: 1, BatchSize: 2},
		ReportFormats:  []string{"pdf", "bogus"},
		ReportFilename: "report",
	}
	ctrl, err := NewController(Dependencies{
		Quality:  qp,
		Schema:   schema,
		Prompts:  prompt.NewAssembler(config.Default().Prompt, model, settings.Generate, nil),
		Backend:  model,
		Registry: reg,
		Memory:   mem,
		Reports:  reports,
		Paths:    paths,
	}, settings, opts...)
	require.NoError(t, err)

	return &harness{ctrl: ctrl, fake: fake, pdf: pdf, registry: reg, memory: mem, paths: paths, dataDir: paths.DataDir}
}

func (h *harness) writeCSV(t *testing.T, name string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Price,Region,Qty\n")
	regions := []string{"north", "south", "east"}
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "%d,%s,%d\n", 10+i, regions[i%3], i+1)
	}
	path := filepath.Join(h.dataDir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func waitRun(t *testing.T, run *Run) (*RunResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := run.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	return res, err
}

func TestRunPipeline_Completes(t *testing.T) {
	h := newHarness(t, nil)
	source := h.writeCSV(t, "sales.csv")

	run, err := h.ctrl.RunPipeline(context.Background(), source)
	require.NoError(t, err)
	res, err := waitRun(t, run)
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, res.Status)
	assert.Equal(t, run.ID(), res.ID)
	assert.Equal(t, source, res.Dataset)
	assert.Equal(t, "analysis text", res.Analysis)
	assert.InDelta(t, 1.0, res.QualityScore, 1e-9)
	assert.NotNil(t, res.FinishedAt)

	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Nil(t, h.ctrl.LastError())
	assert.Equal(t, "pipeline state: idle", h.ctrl.MonitorProgress())

	p := h.ctrl.Progress()
	assert.Equal(t, 100, p.Percent)
	for _, s := range p.Stages {
		assert.Equal(t, StageStatusCompleted, s.Status, s.ID)
	}

	// fine_tune: processed data, an 8/2 split and a saved checkpoint
	assert.FileExists(t, res.ProcessedPath)
	require.Len(t, h.fake.TrainCalls, 1)
	assert.Equal(t, 8, h.fake.TrainCalls[0].TrainRows)
	assert.Equal(t, 2, h.fake.TrainCalls[0].ValRows)
	versions, err := h.registry.List()
	require.NoError(t, err)
	assert.Equal(t, []string{res.Version}, versions)

	// analyze: the tag never reaches the backend and the analysis is remembered
	for _, p := range h.fake.Prompts {
		assert.NotContains(t, p, prompt.TagPrefix)
	}
	recalled, err := h.memory.RecallContext(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "analysis text", recalled[MemoryKeyAnalysis])
	assert.Equal(t, source, recalled[MemoryKeySource])
	assert.Equal(t, run.ID(), recalled[MemoryKeyRunID])

	// report: one pdf, the unknown format skipped
	require.Len(t, res.ReportPaths, 1)
	assert.FileExists(t, res.ReportPaths[0])
	assert.Equal(t, ".pdf", filepath.Ext(res.ReportPaths[0]))
	doc := h.pdf.last(t)
	body, _ := doc.Section(SectionAnalysis)
	assert.Equal(t, "analysis text", body)
	body, _ = doc.Section(SectionInterpretation)
	assert.Equal(t, "summary text", body)
	body, _ = doc.Section(report.MetricsSection)
	assert.Equal(t, report.NoMetricsGenerated, body)
	assert.Equal(t, res.Version, doc.Metadata["model_version"])

	stored, err := h.ctrl.GetRun(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, stored.Status)
}

func TestRunPipeline_StateTransitions(t *testing.T) {
	hub := &hubRecorder{}
	b := NewStatusBroadcaster(hub, nil)
	defer b.Stop()

	h := newHarness(t, nil, WithBroadcaster(b))
	run, err := h.ctrl.RunPipeline(context.Background(), h.writeCSV(t, "sales.csv"))
	require.NoError(t, err)
	_, err = waitRun(t, run)
	require.NoError(t, err)

	assert.Equal(t, []string{"running", "training", "running", "idle"}, hub.transitions())
	assert.Equal(t, StateIdle, b.Latest().State)
}

func TestRunPipeline_ValidationFailure(t *testing.T) {
	h := newHarness(t, &quality.Schema{Columns: []string{"price", "revenue"}})
	run, err := h.ctrl.RunPipeline(context.Background(), h.writeCSV(t, "sales.csv"))
	require.NoError(t, err)

	res, err := waitRun(t, run)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	stage, ok := FailedStage(err)
	assert.True(t, ok)
	assert.Equal(t, StageValidate, stage)

	assert.Equal(t, RunStatusFailed, res.Status)
	assert.Equal(t, StageValidate, res.FailedStage)
	assert.Contains(t, res.Error, "revenue")

	assert.Equal(t, StateError, h.ctrl.State())
	require.Error(t, h.ctrl.LastError())
	msg := h.ctrl.MonitorProgress()
	assert.True(t, strings.HasPrefix(msg, "pipeline state: error"), msg)
	assert.Contains(t, msg, "missing columns: revenue")

	statuses := map[StageID]StageStatus{}
	for _, s := range h.ctrl.Progress().Stages {
		statuses[s.ID] = s.Status
	}
	assert.Equal(t, map[StageID]StageStatus{
		StageLoad:     StageStatusCompleted,
		StageClean:    StageStatusCompleted,
		StageValidate: StageStatusFailed,
		StageAnalyze:  StageStatusSkipped,
		StageFineTune: StageStatusSkipped,
		StageReport:   StageStatusSkipped,
	}, statuses)
	assert.Zero(t, h.fake.PromptCount())
}

func TestRunPipeline_TrainingFailureKeepsEarlierMutations(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.TrainErr = backendtest.ErrScripted

	run, err := h.ctrl.RunPipeline(context.Background(), h.writeCSV(t, "sales.csv"))
	require.NoError(t, err)
	res, err := waitRun(t, run)
	require.Error(t, err)

	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeModelBackend))
	assert.Equal(t, StageFineTune, res.FailedStage)
	assert.Equal(t, StateError, h.ctrl.State())

	versions, err := h.registry.List()
	require.NoError(t, err)
	assert.Empty(t, versions)

	recalled, err := h.memory.RecallContext(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "analysis text", recalled[MemoryKeyAnalysis])
	assert.FileExists(t, res.ProcessedPath)
}

func TestRunPipeline_InterpretationFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.FailOn = func(p string) bool { return strings.Contains(p, "executive summary") }

	run, err := h.ctrl.RunPipeline(context.Background(), h.writeCSV(t, "sales.csv"))
	require.NoError(t, err)
	res, err := waitRun(t, run)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)

	body, ok := h.pdf.last(t).Section(SectionInterpretation)
	assert.True(t, ok)
	assert.Equal(t, InterpretationUnavailable, body)
}

func TestRunPipeline_ExportFailure(t *testing.T) {
	var logs bytes.Buffer
	h := newHarness(t, nil, WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	h.pdf.err = fmt.Errorf("chrome not found")

	run, err := h.ctrl.RunPipeline(context.Background(), h.writeCSV(t, "sales.csv"))
	require.NoError(t, err)
	res, err := waitRun(t, run)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, res.Status)
	assert.Empty(t, res.FailedStage)
	assert.Empty(t, res.ReportPaths)
	assert.Equal(t, []string{report.FormatPDF}, res.FailedFormats)
	assert.NotEmpty(t, res.Version)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Contains(t, logs.String(), `"failed_formats":1`)

	stored, err := h.ctrl.GetRun(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{report.FormatPDF}, stored.FailedFormats)
}

func TestRunPipeline_EmbedsCharts(t *testing.T) {
	h := newHarness(t, nil)
	charts := []string{"plots/trend.png", "plots/mix.png"}

	run, err := h.ctrl.Start(context.Background(), RunRequest{Source: h.writeCSV(t, "sales.csv"), Charts: charts})
	require.NoError(t, err)
	_, err = waitRun(t, run)
	require.NoError(t, err)
	assert.Equal(t, charts, h.pdf.last(t).Charts)
}

func TestRunPipeline_SourceResolution(t *testing.T) {
	h := newHarness(t, nil)
	old := h.writeCSV(t, "old.csv")
	latest := h.writeCSV(t, "latest.csv")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	run, err := h.ctrl.RunPipeline(context.Background(), h.dataDir)
	require.NoError(t, err)
	res, err := waitRun(t, run)
	require.NoError(t, err)
	assert.Equal(t, latest, res.Dataset)

	run, err = h.ctrl.RunPipeline(context.Background(), filepath.Join(h.dataDir, "missing.csv"))
	require.NoError(t, err)
	res, err = waitRun(t, run)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
	assert.Equal(t, StageLoad, res.FailedStage)

	_, err = h.ctrl.RunPipeline(context.Background(), "  ")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestStart_RejectsWhileBusy(t *testing.T) {
	h := newHarness(t, nil)
	source := h.writeCSV(t, "sales.csv")
	h.fake.Block = make(chan struct{})

	run, err := h.ctrl.RunPipeline(context.Background(), source)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.ctrl.Progress().CurrentStage == StageAnalyze
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, StateRunning, h.ctrl.State())
	assert.Equal(t, "pipeline state: running, stage: analyze", h.ctrl.MonitorProgress())
	assert.Same(t, run, h.ctrl.ActiveRun())

	_, err = h.ctrl.RunPipeline(context.Background(), source)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypePrecondition))
	_, err = h.ctrl.Delegate(context.Background(), CleanTask{Source: source})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypePrecondition))
	assert.True(t, apperrors.IsType(h.ctrl.Reset(context.Background()), apperrors.ErrTypePrecondition))

	assert.ErrorIs(t, run.Cancel(), ErrCancelUnsupported)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = run.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(h.fake.Block)
	_, err = waitRun(t, run)
	require.NoError(t, err)
	assert.Nil(t, h.ctrl.ActiveRun())
}

func TestStart_AllowedAfterError(t *testing.T) {
	h := newHarness(t, nil)
	run, err := h.ctrl.RunPipeline(context.Background(), filepath.Join(h.dataDir, "missing.csv"))
	require.NoError(t, err)
	_, err = waitRun(t, run)
	require.Error(t, err)
	require.Equal(t, StateError, h.ctrl.State())

	run, err = h.ctrl.RunPipeline(context.Background(), h.writeCSV(t, "sales.csv"))
	require.NoError(t, err)
	_, err = waitRun(t, run)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Nil(t, h.ctrl.LastError())

	runs, err := h.ctrl.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunStatusCompleted, runs[0].Status)
	assert.Equal(t, RunStatusFailed, runs[1].Status)
}

func TestReset(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.memory.StoreContext(ctx, "s1", map[string]any{"k": "v"}))

	_, err := h.ctrl.DelegateNamed(ctx, "translate", nil)
	require.Error(t, err)
	require.Equal(t, StateError, h.ctrl.State())

	require.NoError(t, h.ctrl.Reset(ctx))
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Nil(t, h.ctrl.LastError())
	recalled, err := h.memory.RecallContext(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, recalled)

	require.NoError(t, h.ctrl.Reset(ctx), "reset from idle is allowed")
}

// brokenMemory fails every Clear.
type brokenMemory struct {
	memory.Store
}

func (brokenMemory) Clear(context.Context, string) error {
	return apperrors.NewStorageError("failed to clear memory", errors.New("redis down"))
}

func TestReset_MemoryFailureStillIdles(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.memory = brokenMemory{h.memory}
	ctx := context.Background()

	_, err := h.ctrl.DelegateNamed(ctx, "translate", nil)
	require.Error(t, err)
	require.Equal(t, StateError, h.ctrl.State())

	err = h.ctrl.Reset(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Nil(t, h.ctrl.LastError())

	run, err := h.ctrl.RunPipeline(ctx, h.writeCSV(t, "sales.csv"))
	require.NoError(t, err, "controller accepts work after the reset")
	_, err = waitRun(t, run)
	require.NoError(t, err)
}

func TestDelegate_CleanTask(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.ctrl.Delegate(context.Background(), CleanTask{Source: h.writeCSV(t, "sales.csv"), OutputName: "clean.csv"})
	require.NoError(t, err)

	assert.Equal(t, TaskClean, res.Kind)
	assert.Equal(t, filepath.Join(h.paths.ProcessedDir, "clean.csv"), res.Path)
	assert.FileExists(t, res.Path)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 10, res.Summary.Rows)
	assert.Equal(t, "price", res.Summary.Columns[0].Name)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.fake.TrainCalls)
}

func TestDelegate_FineTuneTask(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.TrainArtifact.Metadata = map[string]string{"eval_loss": "0.25", "base": "fake"}

	res, err := h.ctrl.Delegate(context.Background(), FineTuneTask{Source: h.writeCSV(t, "sales.csv"), Version: "v1"})
	require.NoError(t, err)
	require.NotNil(t, res.Version)
	assert.Equal(t, "v1", res.Version.Name)
	assert.Equal(t, map[string]float64{"eval_loss": 0.25}, res.Metrics)

	versions, err := h.registry.Versions()
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 0.25, versions[0].Metrics["eval_loss"])
	assert.FileExists(t, filepath.Join(h.paths.EvaluationDir, "v1.json"))
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestDelegate_ReportTask(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.ctrl.Delegate(context.Background(), ReportTask{
		Sections: map[string]string{"Outlook": "stable", "Intro": "hello"},
		Results:  report.ModelResults{Labels: []string{"a", "b"}, Predictions: []string{"a", "b"}},
		Charts:   []string{"plots/weekly.png"},
		Filename: "weekly",
	})
	require.NoError(t, err)
	require.Len(t, res.ReportPaths, 1)
	assert.Contains(t, filepath.Base(res.ReportPaths[0]), "weekly_")
	assert.Equal(t, 1.0, res.Metrics[report.MetricAccuracy])

	doc := h.pdf.last(t)
	assert.Equal(t, "Intro", doc.Sections[0].Title)
	assert.Equal(t, "Outlook", doc.Sections[1].Title)
	assert.Equal(t, []string{"plots/weekly.png"}, doc.Charts)
	assert.Empty(t, res.FailedFormats)
	assert.Zero(t, h.fake.PromptCount(), "no source, no interpretation")
}

func TestDelegate_FailureMovesToError(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.ctrl.Delegate(context.Background(), ReportTask{
		Results: report.ModelResults{Labels: []string{"a"}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	assert.Equal(t, StateError, h.ctrl.State())
	assert.Equal(t, err, h.ctrl.LastError())

	_, err = h.ctrl.Delegate(context.Background(), nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUnknownTask))
}

func TestDelegateNamed(t *testing.T) {
	h := newHarness(t, nil)
	params, err := json.Marshal(map[string]string{"source": h.writeCSV(t, "sales.csv")})
	require.NoError(t, err)

	res, err := h.ctrl.DelegateNamed(context.Background(), "clean_data", params)
	require.NoError(t, err)
	assert.Equal(t, TaskClean, res.Kind)

	_, err = h.ctrl.DelegateNamed(context.Background(), "translate", params)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUnknownTask))
	assert.Equal(t, StateError, h.ctrl.State())
	assert.Contains(t, h.ctrl.MonitorProgress(), "translate")
}

func TestDecodeTask(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		params  string
		want    Task
		errType apperrors.ErrorType
	}{
		{"clean", "clean_data", `{"source":"a.csv"}`, CleanTask{Source: "a.csv"}, ""},
		{"fine tune", "fine_tune", `{"source":"a.csv","version":"v2"}`, FineTuneTask{Source: "a.csv", Version: "v2"}, ""},
		{"report without params", "generate_report", ``, ReportTask{}, ""},
		{"missing source", "clean_data", `{}`, nil, apperrors.ErrTypeValidation},
		{"unknown field", "fine_tune", `{"source":"a.csv","epochs":3}`, nil, apperrors.ErrTypeValidation},
		{"unknown task", "translate", `{}`, nil, apperrors.ErrTypeUnknownTask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeTask(tt.kind, json.RawMessage(tt.params))
			if tt.errType != "" {
				assert.True(t, apperrors.IsType(err, tt.errType), "%v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewController_MissingDependencies(t *testing.T) {
	_, err := NewController(Dependencies{}, Settings{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
	assert.Contains(t, err.Error(), "backend")
}

func TestRunPipeline_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	h := newHarness(t, nil, WithTracer(NewPipelineTracer(tp)))
	run, err := h.ctrl.RunPipeline(context.Background(), h.writeCSV(t, "sales.csv"))
	require.NoError(t, err)
	_, err = waitRun(t, run)
	require.NoError(t, err)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "pipeline.run")
	for _, id := range PipelineStages() {
		assert.Contains(t, names, "pipeline.stage."+string(id))
	}
}
