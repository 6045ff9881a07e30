package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
	"github.com/mayishidai/tradingagents-cn/internal/services/tasks"
)

// NotificationHandler serves the persisted notification inventory
type NotificationHandler struct {
	storage interfaces.NotificationStorage
	logger  arbor.ILogger
}

// NewNotificationHandler creates a notification API handler
func NewNotificationHandler(storage interfaces.NotificationStorage, logger arbor.ILogger) *NotificationHandler {
	return &NotificationHandler{
		storage: storage,
		logger:  logger,
	}
}

func ownerKeysFromRequest(r *http.Request) []string {
	return tasks.OwnerCandidateKeys(r.URL.Query().Get("owner_id"))
}

// HandleList serves GET /api/notifications with status/type filters and paging
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	page, pageSize := GetPaginationParams(r)
	status := r.URL.Query().Get("status")
	ntype := r.URL.Query().Get("type")

	items, total, err := h.storage.List(r.Context(), ownerKeysFromRequest(r), status, ntype, page, pageSize)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list notifications")
		WriteError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	if items == nil {
		items = []*models.Notification{}
	}
	totalPages := (total + pageSize - 1) / pageSize
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": items,
		"pagination": PaginationResponse{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: totalPages,
		},
	})
}

// HandleUnreadCount serves GET /api/notifications/unread_count
func (h *NotificationHandler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	count, err := h.storage.UnreadCount(r.Context(), ownerKeysFromRequest(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count unread notifications")
		WriteError(w, http.StatusInternalServerError, "Failed to count notifications")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

// HandleMarkRead serves POST /api/notifications/{id}/read
func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	notifID := strings.TrimSuffix(rest, "/read")
	if notifID == "" || notifID == rest {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	ok, err := h.storage.MarkRead(r.Context(), ownerKeysFromRequest(r), notifID)
	if err != nil {
		h.logger.Error().Err(err).Str("notification_id", notifID).Msg("Failed to mark notification read")
		WriteError(w, http.StatusInternalServerError, "Failed to mark notification read")
		return
	}
	if !ok {
		WriteError(w, http.StatusNotFound, "Notification not found")
		return
	}

	WriteSuccess(w, "Notification marked read")
}

// HandleMarkAllRead serves POST /api/notifications/read_all
func (h *NotificationHandler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	updated, err := h.storage.MarkAllRead(r.Context(), ownerKeysFromRequest(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to mark all notifications read")
		WriteError(w, http.StatusInternalServerError, "Failed to mark notifications read")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"updated": updated,
	})
}
