// Package gateway hosts the persistent websocket endpoint that desktop
// capture clients connect to. The Hub implements the connection registry
// the router delegates through, and forwards action acks back to it.
package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"deskpilot/internal/domain"
	"deskpilot/internal/metrics"
)

// Config configures the gateway hub.
type Config struct {
	Path   string // websocket endpoint path (default: /ws/desktop)
	Logger *slog.Logger
}

// AckHandler receives completion reports for delegated commands.
type AckHandler interface {
	HandleAck(commandID string, result map[string]any) bool
}

// Hub tracks connected desktop clients and relays frames both ways.
type Hub struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	ack     AckHandler
}

// client is one connected desktop peer.
type client struct {
	conn *websocket.Conn
	info domain.ClientInfo

	mu          sync.Mutex // guards writes and frame fields
	lastFrame   string
	lastFrameAt time.Time
}

// hubMessage is the inbound JSON protocol from desktop clients.
type hubMessage struct {
	Type       string         `json:"type"` // hello | action_result | frame | ping
	ClientType string         `json:"client_type,omitempty"`
	CommandID  string         `json:"commandId,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Frame      string         `json:"frame,omitempty"` // base64 image payload
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // desktop clients connect from arbitrary hosts
	},
}

// NewHub creates a gateway hub.
func NewHub(cfg Config) *Hub {
	if cfg.Path == "" {
		cfg.Path = "/ws/desktop"
	}
	return &Hub{
		path:    cfg.Path,
		logger:  cfg.Logger,
		clients: make(map[string]*client),
	}
}

// SetAckHandler wires the router's ack path. Must be called before any
// client connects.
func (h *Hub) SetAckHandler(ack AckHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ack = ack
}

// Register attaches the websocket endpoint to the mux.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.HandleFunc(h.path, h.handleUpgrade)
}

// Path returns the websocket endpoint path.
func (h *Hub) Path() string { return h.path }

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	clientType := r.URL.Query().Get("client_type")
	if clientType == "" {
		clientType = "desktop"
	}

	c := &client{
		conn: conn,
		info: domain.ClientInfo{
			ID:          clientID,
			ClientType:  clientType,
			RemoteAddr:  r.RemoteAddr,
			ConnectedAt: time.Now(),
		},
	}

	h.mu.Lock()
	if old, exists := h.clients[clientID]; exists {
		// A reconnect replaces the stale connection.
		old.conn.Close()
	} else {
		metrics.ClientsConnected.Inc()
	}
	h.clients[clientID] = c
	h.mu.Unlock()

	h.logger.Info("desktop client connected",
		"client_id", clientID, "client_type", clientType, "remote", r.RemoteAddr)

	c.send(map[string]any{"type": "status", "status": "connected", "client_id": clientID})

	defer func() {
		h.mu.Lock()
		if h.clients[clientID] == c {
			delete(h.clients, clientID)
			metrics.ClientsConnected.Dec()
		}
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("desktop client disconnected", "client_id", clientID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("websocket read error", "client_id", clientID, "err", err)
			}
			return
		}

		var msg hubMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("invalid message from desktop client", "client_id", clientID, "err", err)
			continue
		}

		h.dispatch(c, msg)
	}
}

func (h *Hub) dispatch(c *client, msg hubMessage) {
	switch msg.Type {
	case "hello":
		if msg.ClientType != "" {
			h.mu.Lock()
			c.info.ClientType = msg.ClientType
			h.mu.Unlock()
			h.logger.Debug("client type updated", "client_id", c.info.ID, "client_type", msg.ClientType)
		}

	case domain.MessageTypeActionResult:
		h.mu.RLock()
		ack := h.ack
		h.mu.RUnlock()
		if ack == nil {
			h.logger.Warn("action result with no ack handler", "command_id", msg.CommandID)
			return
		}
		ack.HandleAck(msg.CommandID, msg.Result)

	case "frame":
		c.mu.Lock()
		c.lastFrame = msg.Frame
		c.lastFrameAt = time.Now()
		c.mu.Unlock()

	case "ping":
		c.send(map[string]any{"type": "pong"})

	default:
		h.logger.Debug("unhandled message type", "client_id", c.info.ID, "type", msg.Type)
	}
}

// Send delivers a text frame to one client. Part of domain.ConnectionRegistry.
func (h *Hub) Send(clientID string, text []byte) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("client %s not connected", clientID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, text)
}

// ActiveClientIDs lists connected clients in stable sorted order, so
// target resolution is deterministic. Part of domain.ConnectionRegistry.
func (h *Hub) ActiveClientIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClientInfo returns a connected client's metadata. Part of
// domain.ConnectionRegistry.
func (h *Hub) ClientInfo(clientID string) (domain.ClientInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[clientID]
	if !ok {
		return domain.ClientInfo{}, false
	}
	return c.info, true
}

// LatestFrame returns the most recent screen frame a client pushed and
// when it was captured. Implements the router's FrameSource.
func (h *Hub) LatestFrame(clientID string) (string, time.Time, bool) {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return "", time.Time{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastFrame == "" {
		return "", time.Time{}, false
	}
	return c.lastFrame, c.lastFrameAt, true
}

// CloseAll disconnects every client, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.conn.Close()
		delete(h.clients, id)
		metrics.ClientsConnected.Dec()
	}
}

func (c *client) send(msg map[string]any) {
	data, _ := json.Marshal(msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data)
}
