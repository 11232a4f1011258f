package websocket

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"insightpipe/internal/infrastructure"
)

// Handler upgrades GET /ws requests and attaches them to hub. Same-host
// and Origin-less requests are always accepted; other origins must be
// listed in allowedOrigins, where "*" matches anything.
func Handler(hub *Hub, allowedOrigins []string, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "websocket_handler"))

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return originAllowed(r, allowedOrigins) },
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			logger.WarnContext(r.Context(), "websocket_upgrade_failed",
				slog.Int("status", status),
				slog.String("origin", r.Header.Get("Origin")),
				slog.String("reason", reason.Error()))
			http.Error(w, http.StatusText(status), status)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		traceID := infrastructure.GetTraceID(infrastructure.EnsureTraceID(r.Context()))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(hub, conn, traceID, logger).Serve()
	}
}

func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
