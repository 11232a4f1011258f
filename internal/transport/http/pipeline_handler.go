package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/operations"
	"insightpipe/internal/report"
)

var validate = validator.New()

// PipelineHandler serves /api/pipeline.
type PipelineHandler struct {
	service PipelineService
	errors  *apperrors.ErrorHandler
	logger  *slog.Logger
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(service PipelineService, errs *apperrors.ErrorHandler, logger *slog.Logger) *PipelineHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if errs == nil {
		errs = apperrors.NewErrorHandler(logger, false)
	}
	return &PipelineHandler{
		service: service,
		errors:  errs,
		logger:  logger.With(slog.String("handler", "pipeline")),
	}
}

// Routes returns a chi router for pipeline endpoints
func (h *PipelineHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/state", h.GetState)
	r.Post("/runs", h.StartRun)
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{id}", h.GetRun)
	r.Post("/reset", h.Reset)
	r.Post("/tasks", h.DelegateTask)
	return r
}

// StateResponse is the body of GET /api/pipeline/state.
type StateResponse struct {
	State     operations.State    `json:"state"`
	Monitor   string              `json:"monitor"`
	Progress  operations.Progress `json:"progress"`
	LastError string              `json:"last_error,omitempty"`
}

// GetState handles GET /api/pipeline/state
func (h *PipelineHandler) GetState(w http.ResponseWriter, r *http.Request) {
	resp := StateResponse{
		State:    h.service.State(),
		Monitor:  h.service.MonitorProgress(),
		Progress: h.service.Progress(),
	}
	if err := h.service.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	render.JSON(w, r, resp)
}

// RunRequest is the body of POST /api/pipeline/runs.
type RunRequest struct {
	Source   string              `json:"source" validate:"required"`
	Results  report.ModelResults `json:"results"`
	Metadata map[string]string   `json:"metadata,omitempty"`
	Charts   []string            `json:"charts,omitempty"`
}

// Bind implements render.Binder
func (req *RunRequest) Bind(r *http.Request) error {
	return validateBody(req)
}

// RunAccepted is the body returned when a run starts.
type RunAccepted struct {
	RunID  string           `json:"run_id"`
	Source string           `json:"source"`
	State  operations.State `json:"state"`
}

// StartRun handles POST /api/pipeline/runs
func (h *PipelineHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := render.Bind(r, &req); err != nil {
		h.errors.HandleError(w, r, asValidation(err))
		return
	}

	run, err := h.service.Start(r.Context(), operations.RunRequest{
		Source:   req.Source,
		Results:  req.Results,
		Metadata: req.Metadata,
		Charts:   req.Charts,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "run_requested",
		slog.String("run_id", run.ID()),
		slog.String("source", req.Source))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, RunAccepted{RunID: run.ID(), Source: run.Source(), State: h.service.State()})
}

// ListRuns handles GET /api/pipeline/runs
func (h *PipelineHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.errors.HandleError(w, r, apperrors.NewValidationError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	runs, err := h.service.Runs(r.Context(), limit)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if runs == nil {
		runs = []operations.RunResult{}
	}
	render.JSON(w, r, map[string]interface{}{"runs": runs, "count": len(runs)})
}

// GetRun handles GET /api/pipeline/runs/{id}
func (h *PipelineHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, run)
}

// Reset handles POST /api/pipeline/reset
func (h *PipelineHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context()); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"state": h.service.State()})
}

// TaskRequest is the body of POST /api/pipeline/tasks.
type TaskRequest struct {
	Kind   string          `json:"kind" validate:"required"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Bind implements render.Binder
func (req *TaskRequest) Bind(r *http.Request) error {
	return validateBody(req)
}

// DelegateTask handles POST /api/pipeline/tasks. The task runs to
// completion before the response is written.
func (h *PipelineHandler) DelegateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := render.Bind(r, &req); err != nil {
		h.errors.HandleError(w, r, asValidation(err))
		return
	}

	result, err := h.service.DelegateNamed(r.Context(), req.Kind, req.Params)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func validateBody(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return apperrors.NewAppError(apperrors.ErrTypeValidation, "invalid request body", err)
	}
	return nil
}

// asValidation keeps AppErrors from Bind and turns decode failures into
// validation errors.
func asValidation(err error) error {
	if apperrors.TypeOf(err) != "" {
		return err
	}
	return apperrors.NewAppError(apperrors.ErrTypeValidation, "malformed request body", err)
}
