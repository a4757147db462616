// Package broadcast delivers sync messages to every open application
// instance over websockets. It is the cross-layer message channel the UI
// subscribes to for refresh triggers.
package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgduncan/go-offline-cache/syncqueue"
)

// Config represents hub configuration.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration

	// AllowedOrigins restricts websocket handshakes; "*" allows any origin.
	AllowedOrigins []string
}

// DefaultConfig returns default hub configuration.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteTimeout:    10 * time.Second,
		AllowedOrigins:  []string{"*"},
	}
}

// Hub upgrades incoming connections and fans broadcast messages out to all
// of them. It implements syncqueue.Broadcaster and http.Handler.
type Hub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger

	// writes to a gorilla connection must not interleave; wmu serializes
	// concurrent Broadcast calls
	wmu sync.Mutex

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates a hub. A nil config falls back to DefaultConfig, a nil
// logger to a no-op logger.
func NewHub(config *Config, logger *slog.Logger) *Hub {
	c := DefaultConfig()
	if config != nil {
		c = *config
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  c.ReadBufferSize,
			WriteBufferSize: c.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, c.AllowedOrigins)
			},
		},
		writeTimeout: c.WriteTimeout,
		logger:       logger,

		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the connection. Inbound
// messages are discarded; the channel is one-way, hub to application.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	h.logger.DebugContext(r.Context(), "client connected", "remote", conn.RemoteAddr().String())

	go h.reader(conn)
}

func (h *Hub) reader(conn *websocket.Conn) {
	defer h.drop(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends msg to every connected client. A client that cannot be
// written to is dropped; delivery to the rest proceeds regardless.
func (h *Hub) Broadcast(_ context.Context, msg syncqueue.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()

	for _, conn := range h.snapshot() {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.logger.DebugContext(context.Background(), "dropping unwritable client", "remote", conn.RemoteAddr().String(), "error", err)
			h.drop(conn)
		}
	}

	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	for _, conn := range h.snapshot() {
		h.drop(conn)
	}
	return nil
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	_, found := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()

	if found {
		_ = conn.Close()
	}
}

func checkOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
