// Package ws implements the mobile critical-updates push facet: a
// WebSocket connection hub that pushes serialized KnowledgeItem frames to
// clients as qualifying critical updates are committed, additive to the
// pull-based critical_updates_since call. Grounded on the teacher's
// WebSocket streaming handler shape, rebuilt around gorilla/websocket
// directly with a bounded, drop-oldest-on-overflow per-connection queue.
package ws

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/knowledgerepo/knowledge-repository/internal/knowledge"
	"github.com/knowledgerepo/knowledge-repository/internal/metrics"
)

const (
	defaultSendQueueSize = 64
	writeWait            = 10 * time.Second
	pongWait             = 60 * time.Second
	pingPeriod           = (pongWait * 9) / 10
)

// connection is one live WebSocket client's bookkeeping: its own filter
// parameters and a bounded outbound queue.
type connection struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	since     time.Time
	threshold float64
}

// Hub tracks live connections and fans critical updates out to each one
// whose since/threshold parameters the update satisfies.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
	upgrader    websocket.Upgrader
	logger      *zap.Logger

	storeSubID string
}

// NewHub creates a connection hub. allowedOrigins, when non-empty,
// restricts the upgrade handshake to those Origin header values; an empty
// list, or one containing "*", allows any origin (suitable for same-origin
// or trusted-proxy deployments only).
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}

	h := &Hub{
		connections: make(map[string]*connection),
		logger:      logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(originSet) == 0 {
				return true
			}
			if _, wildcard := originSet["*"]; wildcard {
				return true
			}
			_, ok := originSet[r.Header.Get("Origin")]
			return ok
		},
	}
	return h
}

// Attach subscribes the hub to a knowledge Store so it can push qualifying
// updates as they commit.
func (h *Hub) Attach(store *knowledge.Store) {
	h.storeSubID = store.Subscribe(knowledge.AnyEvent(), h.onNotification)
}

// Detach unsubscribes the hub from its store, if attached.
func (h *Hub) Detach(store *knowledge.Store) {
	if h.storeSubID != "" {
		store.Unsubscribe(h.storeSubID)
		h.storeSubID = ""
	}
}

func (h *Hub) onNotification(ev knowledge.Event) {
	if ev.Type == knowledge.EventDeleted {
		return
	}
	h.broadcast(ev.Item)
}

func (h *Hub) broadcast(item *knowledge.Item) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.connections {
		if item.UpdatedAt.Before(c.since) || item.UpdatedAt.Equal(c.since) {
			continue
		}
		if knowledge.Priority(item) < c.threshold {
			continue
		}
		payload, err := json.Marshal(item.ToWire())
		if err != nil {
			h.logger.Warn("failed to serialize critical update for push", zap.Error(err))
			continue
		}
		c.enqueue(payload)
	}
}

func (c *connection) enqueue(payload []byte) {
	select {
	case c.send <- payload:
		metrics.WebSocketPushesTotal.WithLabelValues("sent").Inc()
		return
	default:
	}
	select {
	case <-c.send:
		metrics.WebSocketPushesTotal.WithLabelValues("dropped").Inc()
	default:
	}
	select {
	case c.send <- payload:
		metrics.WebSocketPushesTotal.WithLabelValues("sent").Inc()
	default:
		metrics.WebSocketPushesTotal.WithLabelValues("dropped").Inc()
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers a new
// connection filtered by its since/threshold query parameters.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	since := parseSince(r.URL.Query())
	threshold := parseThreshold(r.URL.Query())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &connection{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, defaultSendQueueSize),
		since:     since,
		threshold: threshold,
	}

	h.mu.Lock()
	h.connections[c.id] = c
	h.mu.Unlock()
	metrics.WebSocketConnections.Inc()

	go h.writePump(c)
	go h.readPump(c)
}

func parseSince(q url.Values) time.Time {
	raw := q.Get("since")
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}

func parseThreshold(q url.Values) float64 {
	raw := q.Get("threshold")
	if raw == "" {
		return 0.5
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return 0.5
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

func (h *Hub) readPump(c *connection) {
	defer h.unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// This connection is push-only from the server's perspective; any
		// inbound frame only serves to detect client-initiated close.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	_, existed := h.connections[c.id]
	delete(h.connections, c.id)
	h.mu.Unlock()
	if existed {
		metrics.WebSocketConnections.Dec()
	}
	c.conn.Close()
}

// ConnectionCount reports the number of live WebSocket clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
