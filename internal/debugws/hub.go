// Package debugws serves a read-only diagnostic feed over WebSocket: a
// privileged dashboard can watch active sensors, connection counts, and
// mode transitions live without touching the binary event stream. The
// hub is grounded on the register/unregister/broadcast pattern the
// ambient daemon this module descends from uses for its own client fan-out,
// adapted here to a single broadcast-only channel since the dashboard
// never needs per-client state beyond its outbound queue.
package debugws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	clientSendBuffer = 16
	writeWait        = 5 * time.Second
	pingInterval     = 30 * time.Second

	// maxBroadcastRate bounds how often Broadcast actually pushes a
	// snapshot: the dispatch loop may call it once per iteration, far
	// faster than a human-facing dashboard needs fresh data.
	maxBroadcastRate = 4 // snapshots per second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one connected dashboard socket.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out diagnostic snapshots to every connected dashboard client.
// A client whose send buffer is full is dropped rather than allowed to
// slow down the broadcaster, the same discipline the ambient daemon's own
// client hub applies to its clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]bool
	limiter *rate.Limiter
	server  *http.Server
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		limiter: rate.NewLimiter(rate.Limit(maxBroadcastRate), 1),
		log:     log.With().Str("component", "debugws").Logger(),
	}
}

// Start serves the dashboard feed on addr. An empty or "disabled" addr is
// a no-op, the same convention internal/metrics uses for its own optional
// HTTP surface.
func (h *Hub) Start(addr string) error {
	if addr == "" || strings.EqualFold(addr, "disabled") {
		h.log.Info().Msg("debug websocket disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/", h)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	h.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.log.Error().Err(err).Str("addr", addr).Msg("debug websocket server stopped unexpectedly")
		}
	}()
	h.log.Info().Str("addr", addr).Msg("debug websocket server started")
	return nil
}

func (h *Hub) Shutdown(ctx context.Context) {
	if h == nil || h.server == nil {
		return
	}
	_ = h.server.Shutdown(ctx)
}

// ServeHTTP upgrades the connection and registers the client until the
// socket closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &Client{conn: conn, send: make(chan []byte, clientSendBuffer)}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// readPump exists only to detect client disconnects (the dashboard feed
// is one-directional); any inbound message is discarded.
func (h *Hub) readPump(c *Client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast marshals snapshot as JSON and pushes it to every connected
// client, dropping any client whose buffer is already full. Calls beyond
// maxBroadcastRate are silently dropped rather than queued.
func (h *Hub) Broadcast(snapshot any) {
	if !h.limiter.Allow() {
		return
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal diagnostic snapshot")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
