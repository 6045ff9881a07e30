package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/common"
	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
	"github.com/mayishidai/tradingagents-cn/internal/services/tasks"
)

// sseClient is one open event stream with its outbound buffer
type sseClient struct {
	ownerKeys map[string]bool
	send      chan []byte
}

// SSEHandler is the fallback delivery channel for clients that cannot
// hold a WebSocket. It speaks the same message vocabulary: connected,
// notification, heartbeat.
type SSEHandler struct {
	auth       interfaces.AuthService
	logger     arbor.ILogger
	clients    map[*sseClient]bool
	mu         sync.RWMutex
	heartbeat  time.Duration
	sendBuffer int
}

// NewSSEHandler creates the SSE delivery handler and subscribes it to
// the event service
func NewSSEHandler(eventService interfaces.EventService, auth interfaces.AuthService, config *common.WebSocketConfig, logger arbor.ILogger) (*SSEHandler, error) {
	h := &SSEHandler{
		auth:       auth,
		logger:     logger,
		clients:    make(map[*sseClient]bool),
		heartbeat:  config.HeartbeatDuration(),
		sendBuffer: config.SendBuffer,
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = 64
	}

	if err := eventService.Subscribe(h.handleEvent); err != nil {
		return nil, err
	}
	return h, nil
}

// HandleStream serves one event stream until the client disconnects
func (h *SSEHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ownerID, err := h.auth.ValidateToken(r.Context(), BearerToken(r))
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &sseClient{
		ownerKeys: make(map[string]bool),
		send:      make(chan []byte, h.sendBuffer),
	}
	for _, key := range tasks.OwnerCandidateKeys(ownerID) {
		client.ownerKeys[key] = true
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		h.logger.Info().Str("owner_id", ownerID).Msg("SSE client disconnected")
	}()

	h.logger.Info().Str("owner_id", ownerID).Msg("SSE client connected")

	writeSSE(w, "connected", map[string]string{"owner_id": ownerID})
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-client.send:
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			writeSSE(w, "heartbeat", map[string]string{"ts": time.Now().Format(time.RFC3339)})
			flusher.Flush()
		}
	}
}

// writeSSE emits one named event frame
func writeSSE(w http.ResponseWriter, event string, data interface{}) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, encoded)
}

// handleEvent fans a bus event out to matching streams without blocking
func (h *SSEHandler) handleEvent(ctx context.Context, event models.ProgressEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if event.OwnerID != "" && !client.ownerKeys[event.OwnerID] {
			continue
		}
		select {
		case client.send <- msg:
		default:
			// Buffer full: drop the oldest so the stream lags, not stalls
			select {
			case <-client.send:
			default:
			}
			select {
			case client.send <- msg:
			default:
			}
		}
	}
	return nil
}

// ClientCount returns the number of open SSE streams
func (h *SSEHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
