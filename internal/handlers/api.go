package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/common"
	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
)

// APIHandler serves health, version, and status endpoints
type APIHandler struct {
	config    *common.Config
	scheduler interfaces.SchedulerService
	ws        *WebSocketHandler
	sse       *SSEHandler
	startedAt time.Time
	logger    arbor.ILogger
}

// NewAPIHandler creates the service status handler
func NewAPIHandler(config *common.Config, scheduler interfaces.SchedulerService, ws *WebSocketHandler, sse *SSEHandler, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		config:    config,
		scheduler: scheduler,
		ws:        ws,
		sse:       sse,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// HandleHealth serves GET /api/health
func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// HandleVersion serves GET /api/version
func (h *APIHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
	})
}

// HandleStatus serves GET /api/status with runtime details
func (h *APIHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":      "running",
		"version":     common.GetVersion(),
		"environment": h.config.Environment,
		"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
	}
	if h.scheduler != nil {
		status["scheduler"] = h.scheduler.Stats()
	}
	if h.ws != nil {
		status["websocket_clients"] = h.ws.ClientCount()
	}
	if h.sse != nil {
		status["sse_clients"] = h.sse.ClientCount()
	}
	WriteJSON(w, http.StatusOK, status)
}
