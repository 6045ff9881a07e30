package models

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the lifecycle state of an analysis task
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true if no further transitions are allowed
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransitionTo enforces the monotonic task state machine:
// queued -> running -> {succeeded|failed|cancelled}, queued -> cancelled.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusRunning || next == TaskStatusCancelled
	case TaskStatusRunning:
		return next == TaskStatusSucceeded || next == TaskStatusFailed || next == TaskStatusCancelled
	default:
		return false
	}
}

// MarketHint identifies which market a task's subject trades on
type MarketHint string

const (
	MarketDomesticEquity    MarketHint = "domestic-equity"
	MarketCrossBorderEquity MarketHint = "cross-border-equity"
	MarketUSEquity          MarketHint = "us-equity"
)

// ValidMarketHint reports whether the hint is one of the recognized markets
func ValidMarketHint(hint string) bool {
	switch MarketHint(hint) {
	case MarketDomesticEquity, MarketCrossBorderEquity, MarketUSEquity:
		return true
	}
	return false
}

// Task represents one user-submitted analysis request
type Task struct {
	ID              string          `json:"task_id" badgerhold:"key"`
	OwnerID         string          `json:"owner_id" badgerhold:"index"`
	Subject         string          `json:"subject"`
	MarketHint      MarketHint      `json:"market_hint"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	Status          TaskStatus      `json:"status" badgerhold:"index"`
	ProgressPercent int             `json:"progress_percent"`
	StageLabel      string          `json:"stage_label"`
	Error           string          `json:"error,omitempty"`
	ResultRef       string          `json:"result_ref,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// TaskSpec is the submission payload for a new task
type TaskSpec struct {
	TaskID     string          `json:"task_id,omitempty"`
	OwnerID    string          `json:"owner_id,omitempty"`
	Subject    string          `json:"subject" validate:"required"`
	MarketHint string          `json:"market_hint" validate:"required"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}
