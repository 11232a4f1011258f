package app

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"insightpipe/internal/backend"
	"insightpipe/internal/config"
	"insightpipe/internal/infrastructure"
	"insightpipe/internal/memory"
	"insightpipe/internal/middleware"
	"insightpipe/internal/operations"
	"insightpipe/internal/prompt"
	"insightpipe/internal/quality"
	"insightpipe/internal/registry"
	"insightpipe/internal/report"
	"insightpipe/internal/scheduler"
	"insightpipe/internal/storage"
	transporthttp "insightpipe/internal/transport/http"
	ws "insightpipe/internal/websocket"
)

const (
	AppName = "insightpipe"
	VERSION = infrastructure.ServiceVersion
)

var (
	// BuildTime is set at compile time
	BuildTime = time.Now().Format(time.RFC3339)
	// BuildID is a unique identifier for this build
	BuildID = generateBuildID()
)

func generateBuildID() string {
	h := sha256.New()
	h.Write([]byte(VERSION))
	h.Write([]byte(time.Now().Format("2006-01-02")))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// Application is the container that owns every long-lived component.
type Application struct {
	Config      *config.Config
	Paths       *config.Paths
	Logger      *slog.Logger
	OTel        *infrastructure.OTelProviders
	Metrics     *infrastructure.PipelineMetrics
	Hub         *ws.Hub
	Broadcaster *operations.StatusBroadcaster
	Controller  *operations.Controller
	Registry    *registry.Registry
	Memory      memory.Store
	History     operations.RunStore
	Scheduler   *scheduler.Scheduler
	Router      http.Handler
	Server      *http.Server

	closers    []io.Closer
	ownsLogger bool
	mu         sync.Mutex
	listener   net.Listener
	served     chan struct{}
	closeOnce  sync.Once
}

// Option customizes New.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	backend backend.Backend
}

// WithLogger skips global logger initialization and uses logger instead.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBackend replaces the HTTP model backend.
func WithBackend(b backend.Backend) Option {
	return func(o *options) { o.backend = b }
}

// NewApplication loads the configuration from the default locations and
// builds the application.
func NewApplication(opts ...Option) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return New(cfg, opts...)
}

// New wires every component for cfg. Nothing is started; call Start or use
// the Controller directly.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	logger.Info("application_starting",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.String("build_id", BuildID))

	a := &Application{Config: cfg, Logger: logger, ownsLogger: o.logger == nil}
	if err := a.initialize(o); err != nil {
		a.release(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *Application) initialize(o options) error {
	cfg := a.Config
	logger := a.Logger

	paths, err := config.ResolvePaths(cfg.Paths)
	if err != nil {
		return fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution(logger)
	a.Paths = paths

	a.OTel, err = infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.Metrics, err = infrastructure.NewPipelineMetrics(a.OTel.Meter)
	if err != nil {
		return fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	cleaner, err := quality.NewPipeline(quality.PolicyFromConfig(cfg.Quality),
		cfg.Quality.MulticollinearityThreshold, logger, a.Metrics)
	if err != nil {
		return err
	}
	schema, err := quality.LoadSchema(paths.SchemaFile)
	if err != nil {
		return err
	}

	model := o.backend
	if model == nil {
		model, err = a.modelBackend()
		if err != nil {
			return err
		}
	}
	model = backend.Instrument(model, logger, a.Metrics)
	gen, _ := backend.OptionsFromConfig(cfg.Model)

	a.Registry, err = registry.Open(paths.CheckpointsDir,
		registry.WithLogger(logger),
		registry.WithMetrics(a.Metrics),
		registry.WithEvaluationDir(paths.EvaluationDir))
	if err != nil {
		return err
	}

	a.Memory, err = memory.New(cfg.Memory, paths.MemoryDir, logger)
	if err != nil {
		return err
	}
	if c, ok := a.Memory.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	if a.History, err = a.runHistory(); err != nil {
		return err
	}

	wsMetrics, err := ws.NewMetrics(a.OTel.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	a.Hub = ws.NewHub(logger, wsMetrics)
	a.Broadcaster = operations.NewStatusBroadcaster(a.Hub, logger)

	tracer := operations.NewPipelineTracer(nil)
	if a.OTel.TracerProvider != nil {
		tracer = operations.NewPipelineTracer(a.OTel.TracerProvider)
	}

	reportsDir := paths.ReportsDir
	a.Controller, err = operations.NewController(operations.Dependencies{
		Quality:  cleaner,
		Schema:   schema,
		Prompts:  prompt.NewAssembler(cfg.Prompt, model, gen, logger),
		Backend:  model,
		Registry: a.Registry,
		Memory:   a.Memory,
		Reports: func() *report.Builder {
			return report.NewBuilderFromConfig(cfg.Report, reportsDir, logger, a.Metrics)
		},
		Paths: paths,
	}, operations.SettingsFromConfig(cfg),
		operations.WithLogger(logger),
		operations.WithMetrics(a.Metrics),
		operations.WithBroadcaster(a.Broadcaster),
		operations.WithRunStore(a.History),
		operations.WithTracer(tracer))
	if err != nil {
		return err
	}

	a.Scheduler, err = scheduler.New(cfg.Schedule, a.Controller, logger)
	if err != nil {
		return err
	}

	otelMW, err := middleware.NewOTelMiddleware(a.OTel)
	if err != nil {
		return fmt.Errorf("failed to create http telemetry: %w", err)
	}
	a.Router = transporthttp.NewRouter(transporthttp.RouterConfig{
		Version:   VERSION,
		Server:    cfg.Server,
		Pipeline:  a.Controller,
		Models:    a.Registry,
		Clients:   a.Hub,
		WebSocket: ws.Handler(a.Hub, cfg.Server.AllowedOrigins, logger),
		Metrics:   a.OTel.PrometheusHTTP,
		OTel:      otelMW,
		Logger:    logger,
	})
	a.createServer()
	return nil
}

// modelBackend returns the HTTP backend, or a stand-in that fails every
// call when no URL is configured.
func (a *Application) modelBackend() (backend.Backend, error) {
	if a.Config.Model.BackendURL == "" {
		a.Logger.Warn("model_backend_unconfigured",
			slog.String("hint", "set INSIGHT_MODEL_BACKEND_URL to enable analysis and fine-tuning"))
		return backend.Unavailable{Reason: "model backend url is not configured"}, nil
	}
	return backend.NewHTTPBackend(a.Config.Model)
}

func (a *Application) runHistory() (operations.RunStore, error) {
	switch a.Config.History.Backend {
	case "sqlite":
		store, err := storage.OpenSQLiteRunStore(a.Paths.HistoryDB, a.Config.History.Limit, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	default:
		return operations.NewMemoryRunStore(a.Config.History.Limit), nil
	}
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start starts the hub, the scheduler and the HTTP server. A server failure
// after startup calls cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.listener = ln
	a.served = make(chan struct{})

	a.Hub.Start()
	if a.Scheduler != nil {
		a.Scheduler.Start()
	}

	go func() {
		defer close(a.served)
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "server_error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "application_started",
		slog.String("address", ln.Addr().String()),
		slog.String("level", a.Config.Logging.Level),
		slog.String("history_backend", a.Config.History.Backend),
		slog.Bool("scheduler_enabled", a.Scheduler != nil))
	return nil
}

// Addr returns the listening address, or "" before Start.
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop shuts the server down, waits for an active run within the shutdown
// timeout and releases every resource.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "application_stopping")

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	var errs []error
	a.mu.Lock()
	started := a.listener != nil
	a.mu.Unlock()
	if started {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
		<-a.served
	}

	if run := a.Controller.ActiveRun(); run != nil {
		a.Logger.InfoContext(ctx, "waiting_for_active_run", slog.String("run_id", run.ID()))
		if _, err := run.Wait(shutdownCtx); err != nil && shutdownCtx.Err() != nil {
			a.Logger.WarnContext(ctx, "active_run_abandoned", slog.String("run_id", run.ID()))
		}
	}

	if err := a.release(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	a.Logger.InfoContext(ctx, "application_stopped")
	return errors.Join(errs...)
}

// Close releases resources without touching the HTTP server. Commands that
// never call Start use it.
func (a *Application) Close(ctx context.Context) error {
	return a.release(ctx)
}

func (a *Application) release(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.Broadcaster != nil {
			a.Broadcaster.Stop()
		}
		if a.Hub != nil {
			a.Hub.Stop()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.OTel != nil {
			if err := a.OTel.Shutdown(ctx); err != nil {
				a.Logger.ErrorContext(ctx, "otel_shutdown_failed", slog.String("error", err.Error()))
			}
		}
		if a.ownsLogger {
			if err := infrastructure.CloseLogFile(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Run starts the application and blocks until SIGINT, SIGTERM or a server
// failure, then shuts down gracefully.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		a.release(ctx)
		return err
	}

	select {
	case sig := <-sigChan:
		a.Logger.InfoContext(ctx, "signal_received", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
