package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Live delivery channels
	mux.HandleFunc("/ws/notifications", s.app.WSHandler.HandleConnection)
	mux.HandleFunc("/api/notifications/stream", s.app.SSEHandler.HandleStream)

	// Analysis tasks
	mux.HandleFunc("/api/tasks", s.app.TaskHandler.HandleTasks)     // POST (create), GET (list by owner)
	mux.HandleFunc("/api/tasks/", s.app.TaskHandler.HandleTaskByID) // GET /{id}, POST /{id}/cancel

	// Notification inventory
	mux.HandleFunc("/api/notifications", s.app.NotificationHandler.HandleList)
	mux.HandleFunc("/api/notifications/unread_count", s.app.NotificationHandler.HandleUnreadCount)
	mux.HandleFunc("/api/notifications/read_all", s.app.NotificationHandler.HandleMarkAllRead)
	mux.HandleFunc("/api/notifications/", s.handleNotificationRoutes) // POST /{id}/read

	// Scheduler operator surface
	mux.HandleFunc("/api/scheduler/jobs", s.app.SchedulerHandler.HandleJobs)
	mux.HandleFunc("/api/scheduler/jobs/", s.app.SchedulerHandler.HandleJobByID)
	mux.HandleFunc("/api/scheduler/history", s.app.SchedulerHandler.HandleGlobalHistory)
	mux.HandleFunc("/api/scheduler/stats", s.app.SchedulerHandler.HandleStats)
	mux.HandleFunc("/api/scheduler/health", s.app.SchedulerHandler.HandleHealth)

	// Service status
	mux.HandleFunc("/api/health", s.app.APIHandler.HandleHealth)
	mux.HandleFunc("/api/version", s.app.APIHandler.HandleVersion)
	mux.HandleFunc("/api/status", s.app.APIHandler.HandleStatus)

	return mux
}

// handleNotificationRoutes disambiguates /api/notifications/{id}/read
// from the stream endpoint registered above
func (s *Server) handleNotificationRoutes(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/read") {
		s.app.NotificationHandler.HandleMarkRead(w, r)
		return
	}
	http.NotFound(w, r)
}
