package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// TaskHandler serves the analysis task API
type TaskHandler struct {
	service interfaces.TaskService
	logger  arbor.ILogger
}

// NewTaskHandler creates a task API handler
func NewTaskHandler(service interfaces.TaskService, logger arbor.ILogger) *TaskHandler {
	return &TaskHandler{
		service: service,
		logger:  logger,
	}
}

// HandleTasks routes /api/tasks: POST creates, GET lists by owner
func (h *TaskHandler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createTask(w, r)
	case http.MethodGet:
		h.listTasks(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// createTask accepts a task spec and returns the task ID. Resubmitting
// an existing task ID returns the same ID with 200 instead of 201.
func (h *TaskHandler) createTask(w http.ResponseWriter, r *http.Request) {
	var spec models.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	existing := false
	if spec.TaskID != "" {
		if _, err := h.service.Get(r.Context(), spec.TaskID); err == nil {
			existing = true
		}
	}

	taskID, err := h.service.Submit(r.Context(), &spec)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusCreated
	if existing {
		status = http.StatusOK
	}
	WriteJSON(w, status, map[string]string{
		"task_id": taskID,
		"status":  "accepted",
	})
}

// listTasks returns the owner's tasks, newest first
func (h *TaskHandler) listTasks(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")

	taskList, err := h.service.ListForOwner(r.Context(), ownerID)
	if err != nil {
		h.logger.Error().Err(err).Str("owner_id", ownerID).Msg("Failed to list tasks")
		WriteError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}

	if taskList == nil {
		taskList = []*models.Task{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": taskList,
		"count": len(taskList),
	})
}

// HandleTaskByID routes /api/tasks/{id} and /api/tasks/{id}/cancel
func (h *TaskHandler) HandleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.getTask(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "cancel":
		h.cancelTask(w, r, parts[0])
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (h *TaskHandler) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	task, err := h.service.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, interfaces.ErrTaskNotFound) {
			WriteError(w, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to get task")
		WriteError(w, http.StatusInternalServerError, "Failed to get task")
		return
	}

	WriteJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) cancelTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.service.Cancel(r.Context(), taskID); err != nil {
		if errors.Is(err, interfaces.ErrTaskNotFound) {
			WriteError(w, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to cancel task")
		WriteError(w, http.StatusInternalServerError, "Failed to cancel task")
		return
	}

	WriteSuccess(w, "Cancellation requested")
}
