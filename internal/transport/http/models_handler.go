package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/registry"
)

// ModelsHandler serves /api/models.
type ModelsHandler struct {
	registry ModelRegistry
	errors   *apperrors.ErrorHandler
	logger   *slog.Logger
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(reg ModelRegistry, errs *apperrors.ErrorHandler, logger *slog.Logger) *ModelsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if errs == nil {
		errs = apperrors.NewErrorHandler(logger, false)
	}
	return &ModelsHandler{
		registry: reg,
		errors:   errs,
		logger:   logger.With(slog.String("handler", "models")),
	}
}

// Routes returns a chi router for model registry endpoints
func (h *ModelsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListModels)
	r.Get("/compare", h.Compare)
	r.Post("/rollback", h.Rollback)
	r.Post("/prune", h.Prune)
	return r
}

// ModelsResponse is the body of GET /api/models.
type ModelsResponse struct {
	Current  string                  `json:"current,omitempty"`
	Versions []registry.ModelVersion `json:"versions"`
}

// ListModels handles GET /api/models
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	versions, err := h.registry.Versions()
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	current, err := h.registry.Current()
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, ModelsResponse{Current: current, Versions: versions})
}

// Compare handles GET /api/models/compare?old=A&new=B
func (h *ModelsHandler) Compare(w http.ResponseWriter, r *http.Request) {
	older, newer := r.URL.Query().Get("old"), r.URL.Query().Get("new")
	if older == "" || newer == "" {
		h.errors.HandleError(w, r, apperrors.NewValidationError("old and new query parameters are required"))
		return
	}
	deltas, err := h.registry.Compare(older, newer)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"old": older, "new": newer, "deltas": deltas})
}

// Rollback handles POST /api/models/rollback
func (h *ModelsHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	cp, err := h.registry.Rollback(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"current": cp.Version.Name, "version": cp.Version})
}

// PruneRequest is the body of POST /api/models/prune.
type PruneRequest struct {
	KeepLast *int `json:"keep_last" validate:"required,gte=0"`
}

// Bind implements render.Binder
func (req *PruneRequest) Bind(r *http.Request) error {
	return validateBody(req)
}

// Prune handles POST /api/models/prune
func (h *ModelsHandler) Prune(w http.ResponseWriter, r *http.Request) {
	var req PruneRequest
	if err := render.Bind(r, &req); err != nil {
		h.errors.HandleError(w, r, asValidation(err))
		return
	}
	removed, err := h.registry.DeleteOld(r.Context(), *req.KeepLast)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	h.logger.InfoContext(r.Context(), "models_pruned",
		slog.Int("keep_last", *req.KeepLast),
		slog.Int("removed", len(removed)))
	render.JSON(w, r, map[string]interface{}{"removed": removed})
}
