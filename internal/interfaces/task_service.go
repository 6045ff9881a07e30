package interfaces

import (
	"context"

	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// TaskService owns the analysis task lifecycle
type TaskService interface {
	// Submit validates the submission, idempotently records the task, and
	// schedules execution on the worker pool. Returns immediately with
	// the task ID; resubmitting an existing ID returns that ID unchanged.
	Submit(ctx context.Context, spec *models.TaskSpec) (string, error)

	Get(ctx context.Context, taskID string) (*models.Task, error)

	// Cancel is best-effort: queued tasks cancel immediately, running
	// tasks observe the flag at their next checkpoint.
	Cancel(ctx context.Context, taskID string) error

	// ListForOwner matches tasks stored under any known representation
	// of the owner identity.
	ListForOwner(ctx context.Context, ownerID string) ([]*models.Task, error)

	// Start launches the worker pool; Stop drains it
	Start() error
	Stop() error
}
