package operations

import (
	"log/slog"
	"sync"
)

// EventPipelineSnapshot is the event type of every broadcast snapshot.
const EventPipelineSnapshot = "pipeline:snapshot"

// WebSocketHub receives status updates for connected clients.
type WebSocketHub interface {
	BroadcastUpdate(eventType, step, status string, metadata interface{})
}

// StatusBroadcaster is the single source of controller status. It keeps a
// copy of the latest snapshot and forwards snapshots to the hub strictly in
// publish order.
type StatusBroadcaster struct {
	publishMu sync.Mutex // serializes Publish so hub order matches publish order

	mu      sync.RWMutex
	latest  Progress
	stopped bool

	hub    WebSocketHub
	logger *slog.Logger
}

// NewStatusBroadcaster returns a broadcaster starting from an idle snapshot.
// A nil hub keeps snapshots without forwarding them.
func NewStatusBroadcaster(hub WebSocketHub, logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusBroadcaster{
		latest: Progress{State: StateIdle},
		hub:    hub,
		logger: logger.With(slog.String("component", "status_broadcaster")),
	}
}

// Publish stores a copy of p as the latest snapshot and hands it to the hub
// before returning. It is a no-op after Stop.
func (sb *StatusBroadcaster) Publish(p Progress) {
	sb.publishMu.Lock()
	defer sb.publishMu.Unlock()

	snap := p.clone()
	sb.mu.Lock()
	if sb.stopped {
		sb.mu.Unlock()
		return
	}
	sb.latest = snap
	sb.mu.Unlock()

	if sb.hub == nil {
		return
	}
	sb.logger.Debug("snapshot_broadcast",
		slog.String("run_id", snap.RunID),
		slog.String("state", string(snap.State)),
		slog.String("current_stage", string(snap.CurrentStage)),
		slog.Int("progress", snap.Percent))
	sb.hub.BroadcastUpdate(EventPipelineSnapshot, snap.RunID, string(snap.State), snap)
}

// Latest returns a copy of the most recently published snapshot.
func (sb *StatusBroadcaster) Latest() Progress {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.latest.clone()
}

// Stop makes later Publish calls no-ops. It is safe to call more than once.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	sb.stopped = true
	sb.mu.Unlock()
}
