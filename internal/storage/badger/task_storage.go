package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// TaskStorage implements the TaskStorage interface for Badger
type TaskStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTaskStorage creates a new TaskStorage instance
func NewTaskStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TaskStorage {
	return &TaskStorage{
		db:     db,
		logger: logger,
	}
}

// Create inserts the task if the ID is unused. An existing ID makes the
// call a no-op: the stored record is returned untouched so retried
// submissions never reset progress.
func (s *TaskStorage) Create(ctx context.Context, task *models.Task) (*models.Task, bool, error) {
	if task.ID == "" {
		return nil, false, fmt.Errorf("task ID is required")
	}

	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	err := s.db.Store().Insert(task.ID, task)
	if err == badgerhold.ErrKeyExists {
		existing, getErr := s.Get(ctx, task.ID)
		if getErr != nil {
			return nil, false, fmt.Errorf("task exists but could not be read: %w", getErr)
		}
		s.logger.Debug().
			Str("task_id", task.ID).
			Str("status", string(existing.Status)).
			Msg("Task already exists, submission is a no-op")
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create task: %w", err)
	}

	return task, true, nil
}

// Get retrieves a task by ID
func (s *TaskStorage) Get(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	err := s.db.Store().Get(taskID, &task)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// UpdateStatus transitions the task state, rejecting transitions the
// state machine forbids. Terminal states never change again.
func (s *TaskStorage) UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus, errMsg string) (*models.Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !task.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("invalid status transition %s -> %s for task %s", task.Status, status, taskID)
	}

	now := time.Now()
	task.Status = status
	task.UpdatedAt = now
	if errMsg != "" {
		task.Error = errMsg
	}

	switch status {
	case models.TaskStatusRunning:
		task.StartedAt = &now
	case models.TaskStatusSucceeded, models.TaskStatusFailed, models.TaskStatusCancelled:
		task.CompletedAt = &now
	}

	if err := s.db.Store().Update(taskID, task); err != nil {
		return nil, fmt.Errorf("failed to update task status: %w", err)
	}

	return task, nil
}

// UpdateProgress writes a stage checkpoint. Progress never decreases
// within a run; a lower value keeps the stored percentage.
func (s *TaskStorage) UpdateProgress(ctx context.Context, taskID string, percent int, stageLabel string) (*models.Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if percent > task.ProgressPercent {
		if percent > 100 {
			percent = 100
		}
		task.ProgressPercent = percent
	}
	task.StageLabel = stageLabel
	task.UpdatedAt = time.Now()

	if err := s.db.Store().Update(taskID, task); err != nil {
		return nil, fmt.Errorf("failed to update task progress: %w", err)
	}

	return task, nil
}

// SetResultRef records the report artifact pointer
func (s *TaskStorage) SetResultRef(ctx context.Context, taskID string, resultRef string) error {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}

	task.ResultRef = resultRef
	task.UpdatedAt = time.Now()

	if err := s.db.Store().Update(taskID, task); err != nil {
		return fmt.Errorf("failed to set task result: %w", err)
	}
	return nil
}

// ListByOwnerKeys returns tasks whose owner field matches any candidate
// key, newest first. Owner identity has two historical representations,
// so callers pass the full candidate set rather than one canonical key.
func (s *TaskStorage) ListByOwnerKeys(ctx context.Context, ownerKeys []string) ([]*models.Task, error) {
	if len(ownerKeys) == 0 {
		return nil, nil
	}

	keys := make([]interface{}, len(ownerKeys))
	for i, k := range ownerKeys {
		keys[i] = k
	}

	var tasks []models.Task
	query := badgerhold.Where("OwnerID").In(keys...).SortBy("CreatedAt").Reverse()
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, fmt.Errorf("failed to list tasks by owner: %w", err)
	}

	result := make([]*models.Task, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result, nil
}

// ListByStatus returns tasks in the given status, oldest first
func (s *TaskStorage) ListByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	var tasks []models.Task
	query := badgerhold.Where("Status").Eq(status).SortBy("CreatedAt")
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, fmt.Errorf("failed to list tasks by status: %w", err)
	}

	result := make([]*models.Task, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result, nil
}
