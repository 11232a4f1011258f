// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"insightpipe/internal/config"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/infrastructure"
	"insightpipe/internal/operations"
)

// Runner starts pipeline runs. *operations.Controller satisfies it.
type Runner interface {
	RunPipeline(ctx context.Context, source string) (*operations.Run, error)
	State() operations.State
}

// parser accepts five or six field specs and descriptors such as @hourly.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler starts a run over a fixed source on every tick. A tick that
// finds the pipeline busy is skipped.
type Scheduler struct {
	spec   string
	source string
	runner Runner
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New validates the schedule and registers the tick. It returns nil and no
// error when cfg.Cron is empty.
func New(cfg config.ScheduleConfig, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	spec := strings.TrimSpace(cfg.Cron)
	if spec == "" {
		return nil, nil
	}
	if runner == nil {
		return nil, apperrors.NewConfigError("scheduler requires a pipeline runner", nil)
	}
	if strings.TrimSpace(cfg.Source) == "" {
		return nil, apperrors.NewConfigError("schedule.source is required when schedule.cron is set", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := parser.Parse(spec); err != nil {
		return nil, apperrors.NewConfigError("invalid schedule.cron", err).WithContext("cron", spec)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		spec:   spec,
		source: cfg.Source,
		runner: runner,
		cron:   cron.New(cron.WithParser(parser)),
		logger: logger.With(slog.String("component", "scheduler")),
		ctx:    ctx,
		cancel: cancel,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Tick(s.ctx) }); err != nil {
		cancel()
		return nil, apperrors.NewConfigError("failed to register schedule", err).WithContext("cron", spec)
	}
	return s, nil
}

// Spec returns the cron expression.
func (s *Scheduler) Spec() string { return s.spec }

// Start begins firing ticks. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler_started", slog.String("cron", s.spec), slog.String("source", s.source))
}

// Stop halts the schedule and waits for a running tick to return. Runs
// already started keep going on the controller.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler_stopped")
}

// Tick starts one scheduled run unless the pipeline is busy. It returns the
// started run, or nil when the tick was skipped or failed.
func (s *Scheduler) Tick(ctx context.Context) *operations.Run {
	ctx = infrastructure.EnsureTraceID(ctx)
	if state := s.runner.State(); state.Busy() {
		s.logger.InfoContext(ctx, "scheduled_run_skipped",
			slog.String("source", s.source),
			slog.String("state", string(state)))
		return nil
	}

	run, err := s.runner.RunPipeline(ctx, s.source)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrTypePrecondition) {
			s.logger.InfoContext(ctx, "scheduled_run_skipped",
				slog.String("source", s.source),
				slog.String("reason", err.Error()))
			return nil
		}
		s.logger.ErrorContext(ctx, "scheduled_run_failed",
			slog.String("source", s.source),
			slog.String("error", err.Error()))
		return nil
	}
	attrs := []any{slog.String("source", s.source)}
	if run != nil {
		attrs = append(attrs, slog.String("run_id", run.ID()))
	}
	s.logger.InfoContext(ctx, "scheduled_run_started", attrs...)
	return run
}
