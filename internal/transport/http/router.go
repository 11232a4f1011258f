package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"insightpipe/internal/config"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/middleware"
)

// RouterConfig carries everything the API router mounts.
type RouterConfig struct {
	Version  string
	Server   config.ServerConfig
	Pipeline PipelineService
	Models   ModelRegistry
	Clients  ClientCounter

	// WebSocket serves /ws when set.
	WebSocket http.Handler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// OTel instruments every request when set.
	OTel *middleware.OTelMiddleware

	Logger *slog.Logger
}

// NewRouter builds the chi router with the middleware chain and every route.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errs := apperrors.NewErrorHandler(logger, false)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	if cfg.OTel != nil {
		r.Use(cfg.OTel.Handler)
	}
	r.Use(middleware.StructuredLogger(logger))
	r.Use(errs.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins}))
	r.NotFound(errs.NotFound)

	if cfg.WebSocket != nil {
		r.Handle("/ws", cfg.WebSocket)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if rl := cfg.Server.RateLimit; rl.Enabled && rl.RPS > 0 {
			r.Use(middleware.NewRateLimiter(rl.RPS, rl.Burst, logger).Handler)
		}
		r.Use(chimw.Timeout(requestTimeout(cfg.Server)))

		r.Get("/health", NewHealthHandler(cfg.Version, cfg.Pipeline, cfg.Clients).HealthCheck)
		r.Mount("/pipeline", NewPipelineHandler(cfg.Pipeline, errs, logger).Routes())
		if cfg.Models != nil {
			r.Mount("/models", NewModelsHandler(cfg.Models, errs, logger).Routes())
		}
	})

	return r
}

// requestTimeout bounds API handlers; delegated tasks run inside the
// request, so it follows the server write timeout.
func requestTimeout(cfg config.ServerConfig) time.Duration {
	if cfg.WriteTimeout > 0 {
		return cfg.WriteTimeout
	}
	return 60 * time.Second
}
