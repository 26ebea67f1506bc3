package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blebeacon/blebeacon/internal/ble"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WebSocketEvent is the frame sent to WebSocket clients.
type WebSocketEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan WebSocketEvent
}

// Hub fans events out to connected WebSocket clients. Each client has its
// own bounded queue; events for a client whose queue is full are dropped.
type Hub struct {
	buffer  int
	dropped atomic.Uint64

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub that queues up to buffer events per client.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		buffer:  buffer,
		clients: make(map[*client]struct{}),
	}
}

// Emit implements ble.EventSink.
func (h *Hub) Emit(ev ble.Event) {
	h.Broadcast(WebSocketEvent{Type: ev.Name, Payload: ev.Payload})
}

// Broadcast queues event for every client without blocking.
func (h *Hub) Broadcast(event WebSocketEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			if n := h.dropped.Add(1); n%100 == 1 {
				slog.Warn("[WS] client queue full, dropping events", "remote", c.conn.RemoteAddr(), "dropped", n)
			}
		}
	}
}

// Serve runs conn until it closes or the hub is closed. Incoming messages
// are read only to process control frames.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan WebSocketEvent, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("[WS] client connected", "remote", conn.RemoteAddr())
	go h.writeLoop(c)

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("[WS] read error", "remote", conn.RemoteAddr(), "error", err)
			}
			break
		}
	}

	h.remove(c)
	slog.Info("[WS] client disconnected", "remote", conn.RemoteAddr())
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				slog.Debug("[WS] write failed", "remote", c.conn.RemoteAddr(), "error", err)
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

// remove unregisters c and closes its queue, once.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
