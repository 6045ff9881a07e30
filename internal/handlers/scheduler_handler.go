package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// SchedulerHandler serves the background job operator API
type SchedulerHandler struct {
	service interfaces.SchedulerService
	logger  arbor.ILogger
}

// NewSchedulerHandler creates a scheduler API handler
func NewSchedulerHandler(service interfaces.SchedulerService, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{
		service: service,
		logger:  logger,
	}
}

// HandleJobs serves GET /api/scheduler/jobs
func (h *SchedulerHandler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobs := h.service.ListJobs()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// HandleStats serves GET /api/scheduler/stats
func (h *SchedulerHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.service.Stats())
}

// HandleHealth serves GET /api/scheduler/health
func (h *SchedulerHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats := h.service.Stats()
	status := "healthy"
	if !stats.Running {
		status = "stopped"
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"total_jobs":   stats.TotalJobs,
		"running_jobs": stats.RunningJobs,
		"paused_jobs":  stats.PausedJobs,
	})
}

// HandleGlobalHistory serves GET /api/scheduler/history
func (h *SchedulerHandler) HandleGlobalHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, offset := GetLimitOffset(r, 50)
	entries, err := h.service.GlobalHistory(limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list scheduler history")
		WriteError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}
	if entries == nil {
		entries = []*models.JobHistoryEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
		"count":   len(entries),
	})
}

// HandleJobByID routes /api/scheduler/jobs/{id}[/pause|resume|trigger|history|metadata]
func (h *SchedulerHandler) HandleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/scheduler/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	jobID := parts[0]

	if len(parts) == 1 {
		h.getJob(w, r, jobID)
		return
	}

	switch parts[1] {
	case "pause":
		h.actOnJob(w, r, jobID, h.service.Pause, "Job paused")
	case "resume":
		h.actOnJob(w, r, jobID, h.service.Resume, "Job resumed")
	case "trigger":
		h.actOnJob(w, r, jobID, h.service.Trigger, "Job triggered")
	case "history":
		h.jobHistory(w, r, jobID)
	case "metadata":
		h.updateMetadata(w, r, jobID)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (h *SchedulerHandler) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status, err := h.service.GetJob(jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

func (h *SchedulerHandler) actOnJob(w http.ResponseWriter, r *http.Request, jobID string, action func(string) error, message string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := action(jobID); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteSuccess(w, message)
}

func (h *SchedulerHandler) jobHistory(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, offset := GetLimitOffset(r, 50)
	entries, err := h.service.History(jobID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to list job history")
		WriteError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}
	if entries == nil {
		entries = []*models.JobHistoryEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":  jobID,
		"history": entries,
		"count":   len(entries),
	})
}

func (h *SchedulerHandler) updateMetadata(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}

	var payload struct {
		DisplayName string `json:"display_name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if err := h.service.UpdateMetadata(jobID, payload.DisplayName, payload.Description); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteSuccess(w, "Job metadata updated")
}
