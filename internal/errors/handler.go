package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Problem type URIs used in the "type" member of problem responses.
const (
	TypeValidation   = "/errors/validation"
	TypeConfig       = "/errors/config"
	TypeStorage      = "/errors/storage"
	TypeNotFound     = "/errors/not-found"
	TypePrecondition = "/errors/precondition"
	TypeModelBackend = "/errors/model-backend"
	TypeUnknownTask  = "/errors/unknown-task"
	TypeCorruption   = "/errors/corruption"
	TypeTimeout      = "/errors/timeout"
	TypeRateLimit    = "/errors/rate-limit"
	TypeInternal     = "/errors/internal"
)

// ProblemDetails is an RFC 7807 body. Extensions are flattened into the
// top-level JSON object; they never override the standard members.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{Type: problemType, Title: title, Status: status, Detail: detail, Instance: instance}
}

// WithExtension sets an extension member and returns pd for chaining.
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = map[string]interface{}{}
	}
	pd.Extensions[key] = value
	return pd
}

// Render sets the response status for render.Render.
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	type standard ProblemDetails
	base, err := json.Marshal((*standard)(pd))
	if err != nil || len(pd.Extensions) == 0 {
		return base, err
	}
	merged := make(map[string]json.RawMessage, len(pd.Extensions)+5)
	for k, v := range pd.Extensions {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("extension %q: %w", k, err)
		}
		merged[k] = raw
	}
	var std map[string]json.RawMessage
	if err := json.Unmarshal(base, &std); err != nil {
		return nil, err
	}
	for k, v := range std {
		merged[k] = v
	}
	return json.Marshal(merged)
}

type problemKind struct {
	status int
	uri    string
	title  string
}

var problemKinds = map[ErrorType]problemKind{
	ErrTypeValidation:   {http.StatusBadRequest, TypeValidation, "Validation Failed"},
	ErrTypeConfig:       {http.StatusBadRequest, TypeConfig, "Invalid Configuration"},
	ErrTypeStorage:      {http.StatusInternalServerError, TypeStorage, "Storage Failure"},
	ErrTypeNotFound:     {http.StatusNotFound, TypeNotFound, "Resource Not Found"},
	ErrTypePrecondition: {http.StatusConflict, TypePrecondition, "Precondition Failed"},
	ErrTypeModelBackend: {http.StatusBadGateway, TypeModelBackend, "Model Backend Failure"},
	ErrTypeUnknownTask:  {http.StatusBadRequest, TypeUnknownTask, "Unknown Task"},
	ErrTypeCorruption:   {http.StatusInternalServerError, TypeCorruption, "Registry Corruption"},
}

var (
	internalKind = problemKind{http.StatusInternalServerError, TypeInternal, "Internal Server Error"}
	timeoutKind  = problemKind{http.StatusGatewayTimeout, TypeTimeout, "Request Timeout"}
)

// StatusFor returns the HTTP status err is reported with.
func StatusFor(err error) int {
	if k, ok := problemKinds[TypeOf(err)]; ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// ErrorHandler writes problem responses for handler errors, unknown routes
// and recovered panics, logging each one.
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler returns a handler. includeStack adds the goroutine stack
// to 5xx bodies and belongs in development only.
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError logs err and responds with its problem representation.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	problem := h.ErrorToProblem(err, r)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request_failed",
		slog.Any("error", err),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", problem.Status))

	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", string(debug.Stack()))
	}
	h.write(w, r, problem)
}

// ErrorToProblem maps err onto a problem body without writing it. Context
// cancellation becomes a timeout; errors outside the AppError taxonomy
// become an opaque internal error.
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return timeoutKind.problem("the request was cancelled before it completed", r)
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return internalKind.problem("an unexpected error occurred", r)
	}
	kind, ok := problemKinds[appErr.Type]
	if !ok {
		kind = internalKind
	}
	problem := kind.problem(appErr.Error(), r).WithExtension("error_type", string(appErr.Type))
	for k, v := range appErr.Context {
		problem.WithExtension(k, v)
	}
	return problem
}

func (k problemKind) problem(detail string, r *http.Request) *ProblemDetails {
	return NewProblemDetails(k.status, k.uri, k.title, detail, r.URL.Path)
}

func (h *ErrorHandler) write(w http.ResponseWriter, r *http.Request, problem *ProblemDetails) {
	if id := middleware.GetReqID(r.Context()); id != "" {
		problem.WithExtension("trace_id", id)
	}
	if err := render.Render(w, r, problem); err != nil {
		h.logger.WarnContext(r.Context(), "problem_render_failed", slog.String("error", err.Error()))
	}
}

// NotFound answers unknown routes.
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, problemKinds[ErrTypeNotFound].problem("no route for "+r.URL.Path, r))
}

// Recoverer converts panics in next into 500 problems. http.ErrAbortHandler
// is re-raised so net/http can abort the connection.
func (h *ErrorHandler) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.logger.ErrorContext(r.Context(), "panic_recovered",
				slog.String("panic", fmt.Sprint(rec)),
				slog.String("path", r.URL.Path),
				slog.String("stack", string(debug.Stack())))
			h.write(w, r, internalKind.problem("an unexpected error occurred", r))
		}()
		next.ServeHTTP(w, r)
	})
}
