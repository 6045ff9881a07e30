package models

import "time"

// EntityKind distinguishes user tasks from scheduled background jobs
type EntityKind string

const (
	EntityTask EntityKind = "task"
	EntityJob  EntityKind = "job"
)

// ProgressEventType names one state transition vocabulary entry
type ProgressEventType string

const (
	EventHeartbeat ProgressEventType = "heartbeat"
	EventStage     ProgressEventType = "stage"
	EventCompleted ProgressEventType = "completed"
	EventFailed    ProgressEventType = "failed"
	EventCancelled ProgressEventType = "cancelled"
)

// ProgressEvent is one state transition emitted by a task or job.
// Events are transient: they are fanned out to connected clients and
// never persisted by the core.
type ProgressEvent struct {
	EntityKind EntityKind        `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	OwnerID    string            `json:"owner_id,omitempty"`
	Type       ProgressEventType `json:"event_type"`
	Payload    interface{}       `json:"payload,omitempty"`
	EmittedAt  time.Time         `json:"emitted_at"`
}

// TaskProgressPayload is the payload shape for task stage events
type TaskProgressPayload struct {
	Status          TaskStatus `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	StageLabel      string     `json:"stage_label"`
	Error           string     `json:"error,omitempty"`
	ResultRef       string     `json:"result_ref,omitempty"`
}
