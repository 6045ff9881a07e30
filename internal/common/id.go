package common

import (
	"github.com/google/uuid"
)

// NewTaskID generates a unique task ID with the "task_" prefix
// Format: task_<uuid>
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewRunID generates a unique job run ID with the "run_" prefix
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewNotificationID generates a unique notification ID with the "notif_" prefix
func NewNotificationID() string {
	return "notif_" + uuid.New().String()
}
