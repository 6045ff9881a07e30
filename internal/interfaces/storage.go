package interfaces

import (
	"context"
	"errors"

	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// ErrTaskNotFound is returned when a task ID has no stored record
var ErrTaskNotFound = errors.New("task not found")

// ErrKeyNotFound is returned when a kv key does not exist
var ErrKeyNotFound = errors.New("key not found")

// TaskStorage persists analysis tasks.
// The store is the single source of truth for task state: writes for one
// task are scoped to the worker that owns its execution, reads are
// unrestricted.
type TaskStorage interface {
	// Create inserts the task if the ID is unused. If a task with the
	// same ID already exists the call is a no-op and the stored task is
	// returned with created=false, making client retries safe.
	Create(ctx context.Context, task *models.Task) (stored *models.Task, created bool, err error)

	Get(ctx context.Context, taskID string) (*models.Task, error)

	// UpdateStatus transitions the task's status and persists an optional
	// error summary. Invalid transitions (per TaskStatus.CanTransitionTo)
	// are rejected.
	UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus, errMsg string) (*models.Task, error)

	// UpdateProgress writes a stage/progress checkpoint. Progress is
	// clamped to be non-decreasing within a run.
	UpdateProgress(ctx context.Context, taskID string, percent int, stageLabel string) (*models.Task, error)

	// SetResultRef records the report artifact pointer on completion
	SetResultRef(ctx context.Context, taskID string, resultRef string) error

	// ListByOwnerKeys returns tasks whose stored owner field equals any
	// of the candidate keys, newest first.
	ListByOwnerKeys(ctx context.Context, ownerKeys []string) ([]*models.Task, error)

	// ListByStatus returns tasks in the given status, oldest first
	ListByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error)
}

// DataSourceStorage persists provider configurations. Administered by an
// external surface; the resolver only reads.
type DataSourceStorage interface {
	Save(ctx context.Context, config *models.DataSourceConfig) error
	Get(ctx context.Context, name string) (*models.DataSourceConfig, error)
	List(ctx context.Context) ([]*models.DataSourceConfig, error)
	Delete(ctx context.Context, name string) error
}

// JobHistoryStorage persists scheduler run outcomes and operator actions
type JobHistoryStorage interface {
	Append(ctx context.Context, entry *models.JobHistoryEntry) error
	ListByJob(ctx context.Context, jobID string, limit, offset int) ([]*models.JobHistoryEntry, error)
	ListAll(ctx context.Context, limit, offset int) ([]*models.JobHistoryEntry, error)
	// Prune drops the oldest entries of a job beyond keep
	Prune(ctx context.Context, jobID string, keep int) error
}

// JobMetadataStorage persists operator-editable job display fields
type JobMetadataStorage interface {
	Save(ctx context.Context, meta *models.JobMetadata) error
	Get(ctx context.Context, jobID string) (*models.JobMetadata, error)
}

// NotificationStorage persists per-owner notifications
type NotificationStorage interface {
	Save(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, ownerKeys []string, status, ntype string, page, pageSize int) ([]*models.Notification, int, error)
	UnreadCount(ctx context.Context, ownerKeys []string) (int, error)
	MarkRead(ctx context.Context, ownerKeys []string, notifID string) (bool, error)
	MarkAllRead(ctx context.Context, ownerKeys []string) (int, error)
}

// KeyValueStorage is a small kv surface used for auth tokens and
// miscellaneous runtime settings
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// StorageManager bundles the per-entity storages over one database
type StorageManager interface {
	TaskStorage() TaskStorage
	DataSourceStorage() DataSourceStorage
	JobHistoryStorage() JobHistoryStorage
	JobMetadataStorage() JobMetadataStorage
	NotificationStorage() NotificationStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
