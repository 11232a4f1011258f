package websocket

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"insightpipe/internal/infrastructure"
)

// keepalive controls connection liveness. pingEvery must stay below
// idleTimeout so a healthy peer always answers in time.
type keepalive struct {
	writeTimeout time.Duration
	idleTimeout  time.Duration
	pingEvery    time.Duration
	readLimit    int64
}

var defaultKeepalive = keepalive{
	writeTimeout: 10 * time.Second,
	idleTimeout:  60 * time.Second,
	pingEvery:    54 * time.Second,
	readLimit:    512,
}

const sendBuffer = 256

// Client is one subscribed browser. The hub owns send: it is the only
// writer and closes it when the client is dropped.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	ka   keepalive

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time
	logger      *slog.Logger
}

// NewClient wraps an upgraded connection. Nothing runs until Serve.
func NewClient(hub *Hub, conn *websocket.Conn, traceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		ka:          defaultKeepalive,
		id:          id,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		logger:      logger.With(slog.String("component", "websocket_client"), slog.String("client_id", id)),
	}
}

// ID returns the client identifier.
func (c *Client) ID() string { return c.id }

func (c *Client) context() context.Context {
	if c.traceID == "" {
		return context.Background()
	}
	return infrastructure.WithTraceID(context.Background(), c.traceID)
}

func (c *Client) extendRead() error {
	return c.conn.SetReadDeadline(time.Now().Add(c.ka.idleTimeout))
}

func (c *Client) write(kind int, payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.ka.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, payload)
}

// readLoop consumes inbound frames so pongs and close frames are processed.
// The stream is server to client only; payloads are discarded.
func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(c.ka.readLimit)
	_ = c.extendRead()
	c.conn.SetPongHandler(func(string) error { return c.extendRead() })

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WarnContext(c.context(), "unexpected_close", slog.Int("code", closeErr.Code))
			}
			return
		}
		_ = c.extendRead()
		c.logger.Debug("client_message_ignored", slog.Int("size", len(payload)))
	}
}

// writeLoop forwards queued payloads and pings until send is closed or a
// write fails.
func (c *Client) writeLoop() {
	ping := time.NewTicker(c.ka.pingEvery)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		var err error
		select {
		case payload, open := <-c.send:
			if !open {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			err = c.write(websocket.TextMessage, payload)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			c.logger.DebugContext(c.context(), "write_failed", slog.String("error", err.Error()))
			return
		}
	}
}

// Serve registers the client with its hub and runs both loops. It returns
// false when the hub is stopped; the connection is closed in that case.
func (c *Client) Serve() bool {
	if !c.hub.Register(c) {
		_ = c.conn.Close()
		return false
	}
	go c.writeLoop()
	go c.readLoop()
	return true
}
