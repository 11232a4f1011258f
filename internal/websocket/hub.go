package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"insightpipe/internal/infrastructure"
)

// Message types sent by the hub itself.
const (
	TypeConnection = "connection"
	TypeError      = "error"
)

// Message is the JSON envelope of every frame sent to clients.
type Message struct {
	Type      string      `json:"type"`
	Step      string      `json:"step,omitempty"`
	Status    string      `json:"status,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

type outbound struct {
	eventType string
	payload   []byte
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	last    []byte
	running bool
	quit    chan struct{}
	done    chan struct{}
	count   atomic.Int64

	logger  *slog.Logger
	metrics *Metrics
}

// NewHub creates a hub. Call Start before clients connect.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket_hub")),
		metrics:    metrics,
	}
}

// Start launches the hub loop. Calling Start twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.run()
}

// Stop disconnects every client and ends the hub loop.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				h.drop(client, "shutdown")
			}
			h.logger.Info("hub_stopped")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			ctx := client.context()
			h.metrics.connected(ctx)
			h.logger.InfoContext(ctx, "client_registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", len(h.clients)))

			h.sendTo(client, h.connectionMessage(client))
			h.mu.RLock()
			last := h.last
			h.mu.RUnlock()
			if last != nil {
				h.sendTo(client, last)
			}

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client, "closed")
			}

		case msg := <-h.broadcast:
			delivered := 0
			for client := range h.clients {
				if h.sendTo(client, msg.payload) {
					delivered++
				}
			}
			h.metrics.sent(context.Background(), msg.eventType, delivered, len(msg.payload))
			h.logger.Debug("message_broadcast",
				slog.String("type", msg.eventType),
				slog.Int("recipients", delivered),
				slog.Int("size", len(msg.payload)))
		}
	}
}

// sendTo queues payload on client and drops the client if its buffer is
// full. Must run on the hub loop.
func (h *Hub) sendTo(client *Client, payload []byte) bool {
	if !h.clients[client] {
		return false
	}
	select {
	case client.send <- payload:
		return true
	default:
		h.logger.WarnContext(client.context(), "client_send_buffer_full", slog.String("client_id", client.id))
		h.drop(client, "slow_consumer")
		return false
	}
}

func (h *Hub) drop(client *Client, reason string) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	h.count.Store(int64(len(h.clients)))
	close(client.send)
	ctx := client.context()
	d := time.Since(client.connectedAt)
	h.metrics.disconnected(ctx, d, reason)
	h.logger.InfoContext(ctx, "client_unregistered",
		slog.String("client_id", client.id),
		slog.String("reason", reason),
		slog.Duration("connection_duration", d),
		slog.Int("total_clients", len(h.clients)))
}

func (h *Hub) connectionMessage(client *Client) []byte {
	payload, _ := json.Marshal(Message{
		Type:   TypeConnection,
		Status: "connected",
		Data: map[string]string{
			"client_id": client.id,
			"message":   "connected to insightpipe",
		},
		Timestamp: time.Now().UTC(),
		TraceID:   client.traceID,
	})
	return payload
}

// BroadcastUpdate sends an event to every connected client and remembers it
// for clients that connect later. step carries the run id and status the
// controller state for pipeline snapshots.
func (h *Hub) BroadcastUpdate(eventType, step, status string, data interface{}) {
	h.broadcastMessage(context.Background(), Message{
		Type:      eventType,
		Step:      step,
		Status:    status,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// BroadcastError notifies clients of a failure outside the pipeline state
// stream.
func (h *Hub) BroadcastError(ctx context.Context, code, message string) {
	h.broadcastMessage(ctx, Message{
		Type:      TypeError,
		Status:    code,
		Data:      map[string]string{"code": code, "message": message},
		Timestamp: time.Now().UTC(),
		TraceID:   infrastructure.GetTraceID(ctx),
	})
}

func (h *Hub) broadcastMessage(ctx context.Context, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.ErrorContext(ctx, "message_marshal_failed",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	if msg.Type != TypeError {
		h.last = payload
	}
	running := h.running
	h.mu.Unlock()
	if !running {
		return
	}

	select {
	case h.broadcast <- outbound{eventType: msg.Type, payload: payload}:
	case <-h.quit:
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}
