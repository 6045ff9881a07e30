package models

import "time"

// JobDefinition describes one recurring background job loaded from the
// definitions directory or registered in code.
type JobDefinition struct {
	ID           string   `json:"id" yaml:"id"`
	DisplayName  string   `json:"display_name" yaml:"display_name"`
	Description  string   `json:"description" yaml:"description"`
	Schedule     string   `json:"schedule" yaml:"schedule"` // Cron expression
	MaxInstances int      `json:"max_instances" yaml:"max_instances"`
	Paused       bool     `json:"paused" yaml:"paused"`
	JobType      string   `json:"job_type" yaml:"job_type"` // Routes to a registered handler
	Market       string   `json:"market,omitempty" yaml:"market,omitempty"`
	Symbols      []string `json:"symbols,omitempty" yaml:"symbols,omitempty"`
}

// JobHistoryAction categorizes one scheduler history entry
type JobHistoryAction string

const (
	JobActionRun     JobHistoryAction = "run"
	JobActionSkipped JobHistoryAction = "skipped"
	JobActionPause   JobHistoryAction = "pause"
	JobActionResume  JobHistoryAction = "resume"
	JobActionTrigger JobHistoryAction = "trigger"
)

// JobHistoryEntry records one scheduler action or run outcome
type JobHistoryEntry struct {
	ID        string           `json:"id" badgerhold:"key"`
	JobID     string           `json:"job_id" badgerhold:"index"`
	Action    JobHistoryAction `json:"action"`
	Status    string           `json:"status"` // "success", "failed", "skipped"
	Message   string           `json:"message,omitempty"`
	Duration  time.Duration    `json:"duration,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// JobMetadata holds the operator-editable display fields for a job
type JobMetadata struct {
	JobID       string    `json:"job_id" badgerhold:"key"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}
