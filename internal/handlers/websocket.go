package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/mayishidai/tradingagents-cn/internal/common"
	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
	"github.com/mayishidai/tradingagents-cn/internal/services/tasks"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Browser clients connect from the app origin
	},
}

// wsMessage is the envelope pushed over both delivery channels
type wsMessage struct {
	Type      string      `json:"type"` // connected, notification, heartbeat
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// wsClient is one connected WebSocket with its outbound buffer.
// Writes go through the send channel only; a full buffer drops the
// oldest message so a slow reader lags instead of blocking the hub.
type wsClient struct {
	conn      *websocket.Conn
	ownerKeys map[string]bool
	send      chan []byte
	throttle  *rate.Limiter // Limits non-terminal progress pushes
	closeOnce sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// enqueue appends a message, dropping the oldest buffered message when
// the channel is full
func (c *wsClient) enqueue(msg []byte) (dropped bool) {
	select {
	case c.send <- msg:
		return false
	default:
	}
	select {
	case <-c.send:
		dropped = true
	default:
	}
	select {
	case c.send <- msg:
	default:
		dropped = true
	}
	return dropped
}

// WebSocketHandler fans progress events out to connected clients.
// Delivery is owner-scoped: task events reach only connections whose
// owner matches; job events without an owner are broadcast.
type WebSocketHandler struct {
	auth             interfaces.AuthService
	logger           arbor.ILogger
	clients          map[*wsClient]bool
	mu               sync.RWMutex
	heartbeat        time.Duration
	sendBuffer       int
	progressThrottle time.Duration
	serverInstanceID string // Clients use this to detect a server restart
}

// NewWebSocketHandler creates the WebSocket delivery handler and
// subscribes it to the event service.
func NewWebSocketHandler(eventService interfaces.EventService, auth interfaces.AuthService, config *common.WebSocketConfig, logger arbor.ILogger) (*WebSocketHandler, error) {
	h := &WebSocketHandler{
		auth:             auth,
		logger:           logger,
		clients:          make(map[*wsClient]bool),
		heartbeat:        config.HeartbeatDuration(),
		sendBuffer:       config.SendBuffer,
		progressThrottle: config.ProgressThrottleDuration(),
		serverInstanceID: uuid.New().String(),
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = 64
	}

	if err := eventService.Subscribe(h.handleEvent); err != nil {
		return nil, err
	}

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Msg("WebSocket handler initialized")

	return h, nil
}

// HandleConnection upgrades the request and serves the connection until
// the client disconnects
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ownerID, err := h.auth.ValidateToken(r.Context(), BearerToken(r))
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:      conn,
		ownerKeys: make(map[string]bool),
		send:      make(chan []byte, h.sendBuffer),
	}
	for _, key := range tasks.OwnerCandidateKeys(ownerID) {
		client.ownerKeys[key] = true
	}
	if h.progressThrottle > 0 {
		client.throttle = rate.NewLimiter(rate.Every(h.progressThrottle), 1)
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().
		Str("owner_id", ownerID).
		Int("clients", count).
		Msg("WebSocket client connected")

	// Connection acknowledgement carries the server instance so clients
	// can detect a restart and resync state
	ack, _ := json.Marshal(wsMessage{
		Type: "connected",
		Data: map[string]string{
			"server_instance_id": h.serverInstanceID,
			"owner_id":           ownerID,
		},
		Timestamp: time.Now(),
	})
	client.enqueue(ack)

	go h.writePump(client)
	h.readPump(client)
}

// readPump consumes inbound frames until the connection drops. Clients
// only send pings; payloads are discarded.
func (h *WebSocketHandler) readPump(client *wsClient) {
	defer h.unregister(client)

	client.conn.SetReadLimit(4096)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the send buffer and emits heartbeats on idle
func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(h.heartbeat)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			heartbeat, _ := json.Marshal(wsMessage{
				Type:      "heartbeat",
				Timestamp: time.Now(),
			})
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) unregister(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	client.conn.Close()
	h.logger.Info().Int("clients", count).Msg("WebSocket client disconnected")
}

// handleEvent receives bus events and fans them out. The bus calls
// handlers sequentially, so this must never block: enqueue is
// non-blocking by construction.
func (h *WebSocketHandler) handleEvent(ctx context.Context, event models.ProgressEvent) error {
	msg, err := json.Marshal(wsMessage{
		Type:      "notification",
		Data:      event,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}

	terminal := event.Type == models.EventCompleted ||
		event.Type == models.EventFailed ||
		event.Type == models.EventCancelled

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if event.OwnerID != "" && !client.ownerKeys[event.OwnerID] {
			continue
		}
		// Throttle intermediate progress only; terminal events always go out
		if !terminal && client.throttle != nil && !client.throttle.Allow() {
			continue
		}
		if client.enqueue(msg) {
			h.logger.Debug().
				Str("entity_id", event.EntityID).
				Msg("Slow WebSocket client, dropped oldest buffered message")
		}
	}
	return nil
}

// ClientCount returns the number of connected WebSocket clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
