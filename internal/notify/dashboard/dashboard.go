// Package dashboard pushes deliveries to connected dashboard clients over
// WebSocket. A recipient may hold several connections (one per open tab);
// each receives every event addressed to that recipient.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lookout/internal/delivery"
	"github.com/linnemanlabs/lookout/internal/priority"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Event is the JSON frame written to dashboard clients.
type Event struct {
	Kind     string                  `json:"kind"`
	Delivery *delivery.Delivery      `json:"delivery,omitempty"`
	Cluster  *delivery.ClusterDigest `json:"cluster,omitempty"`
	SentAt   time.Time               `json:"sentAt"`
}

// Hub tracks live connections per recipient and fans events out to them.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*conn]struct{}
	closed bool

	upgrader websocket.Upgrader
	logger   log.Logger
	now      func() time.Time
}

// NewHub returns an empty hub.
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		conns: make(map[string]map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Channel implements delivery.Notifier.
func (h *Hub) Channel() priority.Channel { return priority.ChannelDashboard }

// Notify pushes d to the recipient's open dashboards. Having no open
// dashboard is not an error; the delivery stays readable through the API.
func (h *Hub) Notify(_ context.Context, target string, d *delivery.Delivery) error {
	if target == "" {
		return fmt.Errorf("dashboard: %w", delivery.ErrNoTarget)
	}
	return h.broadcast(target, Event{Kind: "alert", Delivery: d, SentAt: h.now().UTC()})
}

// NotifyCluster pushes a cluster digest to the recipient's open dashboards.
func (h *Hub) NotifyCluster(_ context.Context, target string, cd *delivery.ClusterDigest) error {
	if target == "" {
		return fmt.Errorf("dashboard: %w", delivery.ErrNoTarget)
	}
	return h.broadcast(target, Event{Kind: "cluster", Cluster: cd, SentAt: h.now().UTC()})
}

// Connected returns the number of open connections for recipient.
func (h *Hub) Connected(recipient string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[recipient])
}

// ServeHTTP upgrades GET .../recipients/{recipient}/stream to a WebSocket.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	recipient := chi.URLParam(r, "recipient")
	if recipient == "" {
		http.Error(w, "recipient is required", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn(r.Context(), "websocket upgrade failed", "recipient", recipient, "error", err)
		return
	}

	c := &conn{
		hub:       h,
		ws:        ws,
		recipient: recipient,
		send:      make(chan []byte, sendBuffer),
	}
	if !h.register(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	h.logger.Info(r.Context(), "dashboard connected", "recipient", recipient)

	go c.writePump()
	go c.readPump()
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for recipient, set := range h.conns {
		for c := range set {
			close(c.send)
		}
		delete(h.conns, recipient)
	}
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.conns[c.recipient]
	if !ok {
		set = make(map[*conn]struct{})
		h.conns[c.recipient] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.recipient]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.conns, c.recipient)
	}
}

func (h *Hub) broadcast(recipient string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("dashboard: marshal event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[recipient] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn(context.Background(), "dashboard send buffer full, dropping event",
				"recipient", recipient, "kind", ev.Kind)
		}
	}
	return nil
}

// conn is one dashboard client. writePump is the only writer and readPump
// the only reader of ws.
type conn struct {
	hub       *Hub
	ws        *websocket.Conn
	recipient string
	send      chan []byte
}

// readPump discards client frames and keeps the read deadline fresh via pongs.
func (c *conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn(context.Background(), "dashboard read error", "recipient", c.recipient, "error", err)
			}
			return
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
