package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"insightpipe/internal/operations"
)

// ClientCounter reports connected websocket clients.
type ClientCounter interface {
	ClientCount() int
}

// HealthHandler handles GET /api/health
type HealthHandler struct {
	version  string
	started  time.Time
	pipeline PipelineService
	clients  ClientCounter
}

// NewHealthHandler creates a new health handler. clients may be nil.
func NewHealthHandler(version string, pipeline PipelineService, clients ClientCounter) *HealthHandler {
	return &HealthHandler{
		version:  version,
		started:  time.Now(),
		pipeline: pipeline,
		clients:  clients,
	}
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status           string           `json:"status"`
	Version          string           `json:"version"`
	Uptime           string           `json:"uptime"`
	PipelineState    operations.State `json:"pipeline_state"`
	WebSocketClients int              `json:"websocket_clients"`
	Timestamp        time.Time        `json:"timestamp"`
}

// HealthCheck handles GET /api/health. The status stays "ok" while the
// pipeline is in the error state.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		Uptime:        time.Since(h.started).Round(time.Second).String(),
		PipelineState: h.pipeline.State(),
		Timestamp:     time.Now().UTC(),
	}
	if h.clients != nil {
		resp.WebSocketClients = h.clients.ClientCount()
	}
	render.JSON(w, r, resp)
}
