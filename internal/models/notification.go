package models

import "time"

// NotificationType categorizes persisted notifications
type NotificationType string

const (
	NotificationAnalysis NotificationType = "analysis"
	NotificationAlert    NotificationType = "alert"
	NotificationSystem   NotificationType = "system"
)

// Notification is a persisted per-owner message created on terminal task
// transitions. Distinct from transient ProgressEvents, which are delivered
// live and never stored.
type Notification struct {
	ID        string           `json:"id" badgerhold:"key"`
	OwnerID   string           `json:"owner_id" badgerhold:"index"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body,omitempty"`
	TaskID    string           `json:"task_id,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
