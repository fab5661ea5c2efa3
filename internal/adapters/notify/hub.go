// Package notify pushes committed request transitions to dashboard clients
// over WebSocket.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"warrantycore/internal/core"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Event is the payload sent to every connected client.
type Event struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Trigger   string    `json:"trigger"`
	At        time.Time `json:"at"`
}

// client owns one connection. Only its write pump writes to conn.
type client struct {
	conn      *ws.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *ws.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub tracks connected clients and broadcasts transitions to them. It
// implements core.TransitionListener.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	logger   core.Logger
	upgrader ws.Upgrader
}

var _ core.TransitionListener = (*Hub)(nil)

// NewHub creates a hub. A nil logger discards output.
func NewHub(logger core.Logger) *Hub {
	if logger == nil {
		logger = discardLogger{}
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// OnTransition broadcasts ev to every client.
func (h *Hub) OnTransition(_ context.Context, ev core.TransitionEvent) {
	h.Broadcast(Event{
		Type:      "request_transition",
		RequestID: ev.RequestID,
		From:      string(ev.From),
		To:        string(ev.To),
		Trigger:   string(ev.Trigger),
		At:        ev.At,
	})
}

// Broadcast queues evt for every client without waiting on the network. A
// client whose queue is full is dropped.
func (h *Hub) Broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("ws marshal failed", "error", err)
		return
	}
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		case <-c.done:
		default:
			h.logger.Warn("ws client dropped", "reason", "send queue full")
			h.unregister(c)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// writePump drains the client's queue and sends keepalive pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				h.logger.Warn("ws client dropped", "error", err)
				h.unregister(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// ServeHTTP upgrades the connection and reads until the client goes away.
// Inbound messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	c := newClient(conn)
	h.register(c)
	h.logger.Debug("ws client connected", "clients", h.Clients())
	go h.writePump(c)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
	h.logger.Debug("ws client disconnected", "clients", h.Clients())
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
