package relay

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openivr/flowpulse/pkg/events"
)

// Hub manages WebSocket connections and fans published envelopes out to the
// channels each connection subscribed to.
type Hub struct {
	// upgrader for upgrading HTTP connections to WebSocket
	upgrader websocket.Upgrader

	// connections maps channel names to sets of WebSocket connections
	connections map[string]map[*websocket.Conn]bool

	// connectionMeta stores metadata for each connection
	connectionMeta map[*websocket.Conn]*connectionMetadata

	mu sync.RWMutex

	logger *slog.Logger
}

// connectionMetadata stores metadata about a WebSocket connection
type connectionMetadata struct {
	ID            string
	ConnectedAt   time.Time
	LastPingAt    time.Time
	Subscriptions map[string]bool // channel names this connection is subscribed to
}

// clientMessage represents incoming WebSocket control messages
type clientMessage struct {
	Type    string `json:"type"` // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"`
}

// NewHub creates a WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The relay fronts a browser console; origins are enforced
				// upstream by the gateway.
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections:    make(map[string]map[*websocket.Conn]bool),
		connectionMeta: make(map[*websocket.Conn]*connectionMetadata),
		logger:         logger,
	}
}

// HandleWebSocket handles WebSocket connection upgrade and management.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	h.mu.Lock()
	h.connectionMeta[conn] = &connectionMetadata{
		ID:            connID,
		ConnectedAt:   time.Now(),
		LastPingAt:    time.Now(),
		Subscriptions: make(map[string]bool),
	}
	h.mu.Unlock()

	defer h.removeConnection(conn)

	h.logger.Debug("websocket connection established", slog.String("conn_id", connID))

	conn.SetPongHandler(func(string) error {
		h.mu.Lock()
		if meta, exists := h.connectionMeta[conn]; exists {
			meta.LastPingAt = time.Now()
		}
		h.mu.Unlock()
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go h.pingRoutine(conn, stop)

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", slog.Any("error", err))
			}
			return
		}
		h.handleMessage(conn, &msg)
	}
}

func (h *Hub) handleMessage(conn *websocket.Conn, msg *clientMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.Channel != "" {
			h.subscribe(conn, msg.Channel)
		}
	case "unsubscribe":
		if msg.Channel != "" {
			h.unsubscribe(conn, msg.Channel)
		}
	case "ping":
		h.sendEnvelope(conn, events.Envelope{Event: "pong"})
	default:
		h.logger.Debug("unknown websocket message type", slog.String("type", msg.Type))
	}
}

func (h *Hub) subscribe(conn *websocket.Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[channel] == nil {
		h.connections[channel] = make(map[*websocket.Conn]bool)
	}
	h.connections[channel][conn] = true

	if meta, exists := h.connectionMeta[conn]; exists {
		meta.Subscriptions[channel] = true
	}
}

func (h *Hub) unsubscribe(conn *websocket.Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, exists := h.connections[channel]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.connections, channel)
		}
	}
	if meta, exists := h.connectionMeta[conn]; exists {
		delete(meta.Subscriptions, channel)
	}
}

// Broadcast sends an envelope to every connection subscribed to its channel.
func (h *Hub) Broadcast(env events.Envelope) {
	h.mu.RLock()
	conns, exists := h.connections[env.Channel]
	if !exists {
		h.mu.RUnlock()
		return
	}
	connsCopy := make([]*websocket.Conn, 0, len(conns))
	for conn := range conns {
		connsCopy = append(connsCopy, conn)
	}
	h.mu.RUnlock()

	for _, conn := range connsCopy {
		h.sendEnvelope(conn, env)
	}
}

func (h *Hub) sendEnvelope(conn *websocket.Conn, env events.Envelope) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(env); err != nil {
		h.logger.Debug("websocket write failed", slog.Any("error", err))
		h.removeConnection(conn)
	}
}

// removeConnection removes a connection from all subscriptions and closes it.
func (h *Hub) removeConnection(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if meta, exists := h.connectionMeta[conn]; exists {
		for channel := range meta.Subscriptions {
			if conns, ok := h.connections[channel]; ok {
				delete(conns, conn)
				if len(conns) == 0 {
					delete(h.connections, channel)
				}
			}
		}
	}
	delete(h.connectionMeta, conn)
	conn.Close()
}

// pingRoutine sends periodic ping messages to keep the connection alive.
func (h *Hub) pingRoutine(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.removeConnection(conn)
				return
			}
		}
	}
}

// ConnectedClients returns the number of connected clients.
func (h *Hub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connectionMeta)
}

// ChannelSubscribers returns the number of subscribers for a channel.
func (h *Hub) ChannelSubscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conns, exists := h.connections[channel]; exists {
		return len(conns)
	}
	return 0
}
