package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"insightpipe/internal/backend"
	"insightpipe/internal/config"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/infrastructure"
	"insightpipe/internal/memory"
	"insightpipe/internal/prompt"
	"insightpipe/internal/quality"
	"insightpipe/internal/registry"
	"insightpipe/internal/report"
)

// ReportFactory returns a fresh report builder for one report.
type ReportFactory func() *report.Builder

// Dependencies are the components a Controller orchestrates. Schema may be
// nil, which skips structural validation.
type Dependencies struct {
	Quality  *quality.Pipeline
	Schema   *quality.Schema
	Prompts  *prompt.Assembler
	Backend  backend.Backend
	Registry *registry.Registry
	Memory   memory.Store
	Reports  ReportFactory
	Paths    *config.Paths
}

// Settings tune a Controller.
type Settings struct {
	SessionID      string
	Instruction    string
	TestFraction   float64
	Generate       backend.GenerateOptions
	Train          backend.TrainParams
	ReportFormats  []string
	ReportFilename string
	ProcessedName  string
}

// SettingsFromConfig maps the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	gen, train := backend.OptionsFromConfig(cfg.Model)
	return Settings{
		SessionID:      cfg.Memory.SessionID,
		Instruction:    cfg.Prompt.Instruction,
		TestFraction:   cfg.Quality.TestFraction,
		Generate:       gen,
		Train:          train,
		ReportFormats:  cfg.Report.Formats,
		ReportFilename: cfg.Report.FilenamePrefix,
	}
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithMetrics(m *infrastructure.PipelineMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithBroadcaster publishes every state change through b.
func WithBroadcaster(b *StatusBroadcaster) Option {
	return func(c *Controller) { c.broadcaster = b }
}

// WithRunStore records runs in s instead of the default in-memory store.
func WithRunStore(s RunStore) Option {
	return func(c *Controller) { c.runs = s }
}

func WithTracer(t *PipelineTracer) Option {
	return func(c *Controller) { c.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller sequences the pipeline and owns its lifecycle state. Only one
// run or delegated task is in flight at a time.
type Controller struct {
	mu       sync.RWMutex
	state    State
	progress Progress
	lastErr  error
	active   *Run

	quality  *quality.Pipeline
	schema   *quality.Schema
	prompts  *prompt.Assembler
	backend  backend.Backend
	registry *registry.Registry
	memory   memory.Store
	reports  ReportFactory
	paths    *config.Paths
	settings Settings

	broadcaster *StatusBroadcaster
	runs        RunStore
	tracer      *PipelineTracer
	metrics     *infrastructure.PipelineMetrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewController validates deps and returns an Idle controller.
func NewController(deps Dependencies, settings Settings, opts ...Option) (*Controller, error) {
	var missing []string
	if deps.Quality == nil {
		missing = append(missing, "quality")
	}
	if deps.Prompts == nil {
		missing = append(missing, "prompts")
	}
	if deps.Backend == nil {
		missing = append(missing, "backend")
	}
	if deps.Registry == nil {
		missing = append(missing, "registry")
	}
	if deps.Memory == nil {
		missing = append(missing, "memory")
	}
	if deps.Reports == nil {
		missing = append(missing, "reports")
	}
	if deps.Paths == nil {
		missing = append(missing, "paths")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewConfigError("controller is missing dependencies: "+strings.Join(missing, ", "), nil)
	}
	if settings.SessionID == "" {
		settings.SessionID = "default_session"
	}

	c := &Controller{
		state:    StateIdle,
		quality:  deps.Quality,
		schema:   deps.Schema,
		prompts:  deps.Prompts,
		backend:  deps.Backend,
		registry: deps.Registry,
		memory:   deps.Memory,
		reports:  deps.Reports,
		paths:    deps.Paths,
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With(slog.String("component", "pipeline_controller"))
	if c.runs == nil {
		c.runs = NewMemoryRunStore(DefaultHistoryLimit)
	}
	if c.tracer == nil {
		c.tracer = NewPipelineTracer(nil)
	}
	c.progress = Progress{State: StateIdle, UpdatedAt: c.now()}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the failure that moved the controller to Error, or nil.
func (c *Controller) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Progress returns a snapshot of the current or last run.
func (c *Controller) Progress() Progress {
	c.mu.RLock()
	p := c.progress.clone()
	c.mu.RUnlock()
	p.recalc()
	return p
}

// ActiveRun returns the in-flight run, or nil.
func (c *Controller) ActiveRun() *Run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// MonitorProgress describes the controller state in one line.
func (c *Controller) MonitorProgress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msg := "pipeline state: " + string(c.state)
	if c.state.Busy() {
		switch {
		case c.progress.CurrentStage != "":
			msg += ", stage: " + string(c.progress.CurrentStage)
		case c.progress.Task != "":
			msg += ", task: " + string(c.progress.Task)
		}
	}
	if c.state == StateError && c.lastErr != nil {
		msg += ", last error: " + c.lastErr.Error()
	}
	return msg
}

// Runs returns up to limit recorded runs, newest first.
func (c *Controller) Runs(ctx context.Context, limit int) ([]RunResult, error) {
	return c.runs.ListRuns(ctx, limit)
}

// GetRun returns one recorded run.
func (c *Controller) GetRun(ctx context.Context, id string) (RunResult, error) {
	return c.runs.GetRun(ctx, id)
}

// RunPipeline starts a run over source with no model results.
func (c *Controller) RunPipeline(ctx context.Context, source string) (*Run, error) {
	return c.Start(ctx, RunRequest{Source: source})
}

// Start launches a pipeline run on its own goroutine. It fails with a
// PreconditionError unless the controller is Idle or Error. The run does
// not inherit ctx cancellation.
func (c *Controller) Start(ctx context.Context, req RunRequest) (*Run, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, apperrors.NewValidationError("dataset source is required")
	}

	c.mu.Lock()
	if c.state.Busy() {
		state := c.state
		c.mu.Unlock()
		return nil, apperrors.NewPreconditionError(fmt.Sprintf("pipeline is %s", state)).
			WithContext("state", string(state))
	}
	run := newRun(uuid.NewString(), req.Source)
	c.active = run
	c.lastErr = nil
	c.progress = newProgress(run.id, req.Source, PipelineStages())
	from := c.setStateLocked(StateRunning)
	snapshot := c.progress.clone()
	c.mu.Unlock()

	runCtx := infrastructure.EnsureTraceID(context.WithoutCancel(ctx))
	c.transitioned(runCtx, from, StateRunning, snapshot)
	go c.execute(runCtx, run, req)
	return run, nil
}

// execute runs every stage in order and settles the run.
func (c *Controller) execute(ctx context.Context, run *Run, req RunRequest) {
	start := c.now()
	ctx, span := c.tracer.StartRun(ctx, run.id, req.Source)

	rs := &runState{
		id:     run.id,
		source: req.Source,
		req:    req,
		result: RunResult{ID: run.id, Source: req.Source, Status: RunStatusRunning, StartedAt: start},
	}
	c.saveRun(ctx, rs.result)
	c.logger.InfoContext(ctx, "pipeline_started",
		slog.String("run_id", run.id),
		slog.String("source", req.Source))

	var err error
	for _, st := range c.pipeline() {
		if err = c.runStage(ctx, st, rs); err != nil {
			break
		}
	}

	finished := c.now()
	rs.result.FinishedAt = &finished
	if err != nil {
		rs.result.Status = RunStatusFailed
		rs.result.Error = err.Error()
		rs.result.FailedStage, _ = FailedStage(err)
		c.logger.ErrorContext(ctx, "pipeline_failed",
			slog.String("run_id", run.id),
			slog.String("stage", string(rs.result.FailedStage)),
			slog.String("error", err.Error()),
			slog.Duration("duration", finished.Sub(start)))
	} else {
		rs.result.Status = RunStatusCompleted
		c.logger.InfoContext(ctx, "pipeline_completed",
			slog.String("run_id", run.id),
			slog.String("version", rs.result.Version),
			slog.Int("reports", len(rs.result.ReportPaths)),
			slog.Int("failed_formats", len(rs.result.FailedFormats)),
			slog.Duration("duration", finished.Sub(start)))
	}

	c.metrics.RecordRun(ctx, string(rs.result.Status), finished.Sub(start))
	endSpan(span, err)
	c.saveRun(ctx, rs.result)

	c.settle(ctx, err, func() {
		c.progress.CurrentStage = ""
		c.progress.skipPending()
		c.active = nil
	})
	run.resolve(rs.result, err)
}

// runStage executes one stage, switching controller state first when the
// stage runs in a different one. Panics become stage errors.
func (c *Controller) runStage(ctx context.Context, st stage, rs *runState) (err error) {
	c.mu.Lock()
	from := c.state
	if from != st.state {
		c.setStateLocked(st.state)
	}
	c.progress.CurrentStage = st.id
	if s := c.progress.stage(st.id); s != nil {
		s.start(c.now())
	}
	snapshot := c.progress.clone()
	c.mu.Unlock()

	if from != st.state {
		c.transitioned(ctx, from, st.state, snapshot)
	} else {
		c.publish(snapshot)
	}

	stageCtx, span := c.tracer.StartStage(ctx, rs.id, st.id)
	start := time.Now()
	c.logger.InfoContext(stageCtx, "stage_started",
		slog.String("run_id", rs.id),
		slog.String("stage", string(st.id)))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		err = wrapStage(st.id, err)
		duration := time.Since(start)
		c.metrics.RecordStage(stageCtx, string(st.id), duration, err == nil)
		endSpan(span, err)

		c.mu.Lock()
		if s := c.progress.stage(st.id); s != nil {
			if err != nil {
				s.fail(c.now(), err)
			} else {
				s.complete(c.now())
			}
		}
		snapshot := c.progress.clone()
		c.mu.Unlock()

		if err != nil {
			c.logger.ErrorContext(stageCtx, "stage_failed",
				slog.String("run_id", rs.id),
				slog.String("stage", string(st.id)),
				slog.String("error", err.Error()),
				slog.Duration("duration", duration))
			return
		}
		c.logger.InfoContext(stageCtx, "stage_completed",
			slog.String("run_id", rs.id),
			slog.String("stage", string(st.id)),
			slog.Duration("duration", duration))
		c.publish(snapshot)
	}()

	return st.run(stageCtx, rs)
}

// Delegate runs a single task synchronously. The controller is Running
// (Training for fine-tuning) while the task executes, returns to Idle on
// success and moves to Error on failure.
func (c *Controller) Delegate(ctx context.Context, task Task) (TaskResult, error) {
	var kind TaskKind
	if task != nil {
		kind = task.Kind()
	}
	target := StateRunning
	if kind == TaskFineTune {
		target = StateTraining
	}

	c.mu.Lock()
	if c.state.Busy() {
		state := c.state
		c.mu.Unlock()
		return TaskResult{}, apperrors.NewPreconditionError(fmt.Sprintf("pipeline is %s", state)).
			WithContext("state", string(state))
	}
	c.lastErr = nil
	c.progress = newProgress("", "", nil)
	c.progress.Task = kind
	from := c.setStateLocked(target)
	snapshot := c.progress.clone()
	c.mu.Unlock()

	ctx = infrastructure.EnsureTraceID(ctx)
	c.transitioned(ctx, from, target, snapshot)
	c.logger.InfoContext(ctx, "task_started", slog.String("task", string(kind)))

	ctx, span := c.tracer.StartTask(ctx, kind)
	start := time.Now()
	res, err := c.dispatch(ctx, task)
	c.metrics.RecordStage(ctx, "task_"+string(kind), time.Since(start), err == nil)
	endSpan(span, err)

	if err != nil {
		c.logger.ErrorContext(ctx, "task_failed",
			slog.String("task", string(kind)),
			slog.String("error", err.Error()))
	} else {
		c.logger.InfoContext(ctx, "task_completed",
			slog.String("task", string(kind)),
			slog.Duration("duration", time.Since(start)))
	}
	c.settle(ctx, err, func() { c.progress.Task = "" })
	return res, err
}

// DelegateNamed decodes a task from its name and JSON parameters and runs
// it. A name or parameters that do not decode count as a failed task.
func (c *Controller) DelegateNamed(ctx context.Context, kind string, params json.RawMessage) (TaskResult, error) {
	task, err := DecodeTask(kind, params)
	if err != nil {
		c.mu.Lock()
		if c.state.Busy() {
			state := c.state
			c.mu.Unlock()
			return TaskResult{}, apperrors.NewPreconditionError(fmt.Sprintf("pipeline is %s", state)).
				WithContext("state", string(state))
		}
		c.mu.Unlock()
		c.logger.ErrorContext(ctx, "task_rejected",
			slog.String("task", kind),
			slog.String("error", err.Error()))
		c.settle(ctx, err, nil)
		return TaskResult{}, err
	}
	return c.Delegate(ctx, task)
}

// Reset clears the session memory and returns the controller to Idle. It
// fails with a PreconditionError while a run or task is in flight. A memory
// failure does not block the transition; it is logged and returned after
// the controller is Idle.
func (c *Controller) Reset(ctx context.Context) error {
	if state := c.State(); state.Busy() {
		return apperrors.NewPreconditionError(fmt.Sprintf("cannot reset while pipeline is %s", state)).
			WithContext("state", string(state))
	}
	clearErr := c.memory.Clear(ctx, c.settings.SessionID)
	if clearErr != nil {
		c.logger.WarnContext(ctx, "memory_clear_failed",
			slog.String("session", c.settings.SessionID),
			slog.String("error", clearErr.Error()))
	}

	c.mu.Lock()
	if c.state.Busy() {
		state := c.state
		c.mu.Unlock()
		return apperrors.NewPreconditionError(fmt.Sprintf("cannot reset while pipeline is %s", state))
	}
	c.lastErr = nil
	c.progress = Progress{}
	from := c.setStateLocked(StateIdle)
	snapshot := c.progress.clone()
	c.mu.Unlock()

	c.transitioned(ctx, from, StateIdle, snapshot)
	c.logger.InfoContext(ctx, "pipeline_reset", slog.String("session", c.settings.SessionID))
	return clearErr
}

// settle moves the controller to Idle, or to Error recording err. update
// runs under the lock before the snapshot is taken.
func (c *Controller) settle(ctx context.Context, err error, update func()) {
	target := StateIdle
	c.mu.Lock()
	if err != nil {
		target = StateError
		c.lastErr = err
	}
	if update != nil {
		update()
	}
	from := c.setStateLocked(target)
	snapshot := c.progress.clone()
	c.mu.Unlock()
	c.transitioned(ctx, from, target, snapshot)
}

// setStateLocked switches state and stamps the progress. Callers hold mu.
func (c *Controller) setStateLocked(to State) State {
	from := c.state
	c.state = to
	c.progress.State = to
	c.progress.UpdatedAt = c.now()
	c.progress.LastError = ""
	if c.lastErr != nil {
		c.progress.LastError = c.lastErr.Error()
	}
	c.progress.recalc()
	return from
}

func (c *Controller) transitioned(ctx context.Context, from, to State, snapshot Progress) {
	c.logger.InfoContext(ctx, "state_changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	if c.metrics != nil {
		c.metrics.StateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(to))))
	}
	c.publish(snapshot)
}

func (c *Controller) publish(snapshot Progress) {
	if c.broadcaster == nil {
		return
	}
	snapshot.recalc()
	c.broadcaster.Publish(snapshot)
}

func (c *Controller) saveRun(ctx context.Context, result RunResult) {
	if err := c.runs.SaveRun(ctx, result); err != nil {
		c.logger.WarnContext(ctx, "run_record_failed",
			slog.String("run_id", result.ID),
			slog.String("error", err.Error()))
	}
}
