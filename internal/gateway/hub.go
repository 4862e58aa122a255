package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	monitorWriteWait  = 10 * time.Second
	monitorPongWait   = 60 * time.Second
	monitorPingPeriod = (monitorPongWait * 9) / 10
	monitorSendBuffer = 64
)

// Frame is one monitor event: a trace-tagged copy of an outbound SSE frame.
type Frame struct {
	TraceID string         `json:"trace_id"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data"`
}

// Hub mirrors every SSE frame the turn pipeline emits to connected monitor
// websockets. Broadcast never blocks: a client that cannot keep up has
// frames dropped, not queued.
type Hub struct {
	allowedOrigins []string
	upgrader       websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*monitorClient
}

// NewHub creates a monitor hub enforcing the given origin allowlist on
// upgrade requests.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		allowedOrigins: allowedOrigins,
		clients:        make(map[string]*monitorClient),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if originAllowed(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// HandleEvents upgrades the request and streams frames until the client
// disconnects or the hub shuts down.
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("monitor upgrade failed", "error", err)
		return
	}

	client := &monitorClient{
		id:   uuid.NewString()[:8],
		conn: conn,
		send: make(chan Frame, monitorSendBuffer),
		done: make(chan struct{}),
	}
	h.register(client)

	go client.writePump()
	client.readPump() // blocks until disconnect

	h.unregister(client)
	client.close()
}

// Broadcast implements the turn pipeline's frame sink. Safe for concurrent
// use; slow clients lose frames instead of stalling the stream.
func (h *Hub) Broadcast(traceID, event string, data map[string]any) {
	frame := Frame{TraceID: traceID, Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- frame:
		default:
			slog.Debug("monitor client lagging, frame dropped", "id", c.id, "event", event)
		}
	}
}

// ClientCount reports how many monitor sockets are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client. Used at server shutdown; websocket
// connections are hijacked and outlive http.Server.Shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*monitorClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*monitorClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *monitorClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	slog.Info("monitor client connected", "id", c.id)
}

func (h *Hub) unregister(c *monitorClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		slog.Info("monitor client disconnected", "id", c.id)
	}
}

// monitorClient is one connected monitor socket. The feed is one-way:
// inbound messages are discarded, the read loop exists to honor pongs and
// notice disconnects.
type monitorClient struct {
	id   string
	conn *websocket.Conn
	send chan Frame

	closeOnce sync.Once
	done      chan struct{}
}

func (c *monitorClient) readPump() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *monitorClient) writePump() {
	ticker := time.NewTicker(monitorPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *monitorClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
