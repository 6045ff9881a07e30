package badger

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

func setupTestStore(t *testing.T) (*BadgerDB, func()) {
	tmpDir, err := ioutil.TempDir("", "badger-test")
	if err != nil {
		t.Fatal(err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatal(err)
	}

	db := &BadgerDB{store: store}
	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return db, cleanup
}

func TestTaskCreateIsIdempotent(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()

	storage := NewTaskStorage(db, arbor.NewLogger())
	ctx := context.Background()

	task := &models.Task{
		ID:      "task-idem-1",
		OwnerID: "user:alice",
		Subject: "600519",
		Status:  models.TaskStatusQueued,
	}

	stored, created, err := storage.Create(ctx, task)
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	if !created {
		t.Error("Expected created=true for first submission")
	}

	// Progress the stored record, then resubmit the same ID
	if _, err := storage.UpdateStatus(ctx, task.ID, models.TaskStatusRunning, ""); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}
	if _, err := storage.UpdateProgress(ctx, task.ID, 40, "fundamentals"); err != nil {
		t.Fatalf("Failed to update progress: %v", err)
	}

	retry := &models.Task{
		ID:      "task-idem-1",
		OwnerID: "user:alice",
		Subject: "600519",
		Status:  models.TaskStatusQueued,
	}
	stored, created, err = storage.Create(ctx, retry)
	if err != nil {
		t.Fatalf("Retried create failed: %v", err)
	}
	if created {
		t.Error("Expected created=false for retried submission")
	}
	if stored.Status != models.TaskStatusRunning {
		t.Errorf("Retry must not reset status, got %s", stored.Status)
	}
	if stored.ProgressPercent != 40 {
		t.Errorf("Retry must not reset progress, got %d", stored.ProgressPercent)
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()

	storage := NewTaskStorage(db, arbor.NewLogger())
	ctx := context.Background()

	task := &models.Task{
		ID:      "task-trans-1",
		OwnerID: "user:bob",
		Subject: "AAPL",
		Status:  models.TaskStatusQueued,
	}
	if _, _, err := storage.Create(ctx, task); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	// queued -> succeeded skips running and must be rejected
	if _, err := storage.UpdateStatus(ctx, task.ID, models.TaskStatusSucceeded, ""); err == nil {
		t.Error("Expected queued -> succeeded to be rejected")
	}

	updated, err := storage.UpdateStatus(ctx, task.ID, models.TaskStatusRunning, "")
	if err != nil {
		t.Fatalf("Failed queued -> running: %v", err)
	}
	if updated.StartedAt == nil {
		t.Error("Expected StartedAt to be set on running")
	}

	updated, err = storage.UpdateStatus(ctx, task.ID, models.TaskStatusSucceeded, "")
	if err != nil {
		t.Fatalf("Failed running -> succeeded: %v", err)
	}
	if updated.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set on terminal state")
	}

	// Terminal states never change again
	if _, err := storage.UpdateStatus(ctx, task.ID, models.TaskStatusCancelled, ""); err == nil {
		t.Error("Expected transition out of terminal state to be rejected")
	}
}

func TestTaskProgressNeverDecreases(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()

	storage := NewTaskStorage(db, arbor.NewLogger())
	ctx := context.Background()

	task := &models.Task{
		ID:      "task-prog-1",
		OwnerID: "user:carol",
		Subject: "00700",
		Status:  models.TaskStatusQueued,
	}
	if _, _, err := storage.Create(ctx, task); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	if _, err := storage.UpdateProgress(ctx, task.ID, 60, "analysis"); err != nil {
		t.Fatalf("Failed to update progress: %v", err)
	}

	updated, err := storage.UpdateProgress(ctx, task.ID, 30, "retry")
	if err != nil {
		t.Fatalf("Failed to update progress: %v", err)
	}
	if updated.ProgressPercent != 60 {
		t.Errorf("Expected progress to stay at 60, got %d", updated.ProgressPercent)
	}
	if updated.StageLabel != "retry" {
		t.Errorf("Expected stage label to update, got %s", updated.StageLabel)
	}

	updated, err = storage.UpdateProgress(ctx, task.ID, 150, "done")
	if err != nil {
		t.Fatalf("Failed to update progress: %v", err)
	}
	if updated.ProgressPercent != 100 {
		t.Errorf("Expected progress clamped to 100, got %d", updated.ProgressPercent)
	}
}

func TestTaskListByOwnerKeys(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()

	storage := NewTaskStorage(db, arbor.NewLogger())
	ctx := context.Background()

	// Two stored representations of the same owner plus a stranger
	for _, tc := range []struct {
		id    string
		owner string
	}{
		{"task-own-1", "admin"},
		{"task-own-2", "user:admin"},
		{"task-own-3", "user:mallory"},
	} {
		task := &models.Task{
			ID:      tc.id,
			OwnerID: tc.owner,
			Subject: "600036",
			Status:  models.TaskStatusQueued,
		}
		if _, _, err := storage.Create(ctx, task); err != nil {
			t.Fatalf("Failed to create %s: %v", tc.id, err)
		}
	}

	tasks, err := storage.ListByOwnerKeys(ctx, []string{"admin", "user:admin"})
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks for admin keys, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.OwnerID == "user:mallory" {
			t.Error("List leaked another owner's task")
		}
	}
}

func TestTaskGetNotFound(t *testing.T) {
	db, cleanup := setupTestStore(t)
	defer cleanup()

	storage := NewTaskStorage(db, arbor.NewLogger())

	_, err := storage.Get(context.Background(), "task-missing")
	if err != interfaces.ErrTaskNotFound {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}
