package interfaces

import (
	"time"

	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// JobStatus is the externally visible state of one scheduled job
type JobStatus struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"display_name"`
	Description  string     `json:"description,omitempty"`
	Schedule     string     `json:"schedule"`
	Paused       bool       `json:"paused"`
	MaxInstances int        `json:"max_instances"`
	Running      int        `json:"running"` // Current concurrent executions
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// SchedulerStats summarizes the scheduler engine state
type SchedulerStats struct {
	TotalJobs   int  `json:"total_jobs"`
	RunningJobs int  `json:"running_jobs"`
	PausedJobs  int  `json:"paused_jobs"`
	Running     bool `json:"engine_running"`
}

// JobFunc is the work body of a scheduled job
type JobFunc func() error

// SchedulerService manages recurring and manually triggerable background
// jobs, independent of user-submitted tasks.
type SchedulerService interface {
	Start() error
	Stop() error
	IsRunning() bool

	// RegisterJob registers a job. Definitions loaded from files route
	// through the same path.
	RegisterJob(def *models.JobDefinition, fn JobFunc) error

	ListJobs() []*JobStatus
	GetJob(jobID string) (*JobStatus, error)
	Pause(jobID string) error
	Resume(jobID string) error

	// Trigger forces an out-of-band run. If the job's max_instances cap
	// is reached the fire is skipped and recorded, not queued.
	Trigger(jobID string) error

	History(jobID string, limit, offset int) ([]*models.JobHistoryEntry, error)
	GlobalHistory(limit, offset int) ([]*models.JobHistoryEntry, error)
	UpdateMetadata(jobID, displayName, description string) error
	Stats() SchedulerStats
}
