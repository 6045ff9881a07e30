package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/common"
	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// Manager owns the analysis task lifecycle: validation, idempotent
// creation, execution on a bounded worker pool, and progress emission.
type Manager struct {
	storage       interfaces.TaskStorage
	notifications interfaces.NotificationStorage
	resolver      interfaces.DataResolver
	analyzer      interfaces.Analyzer
	events        interfaces.EventService
	validate      *validator.Validate
	logger        arbor.ILogger

	concurrency   int
	stageTimeout  time.Duration
	sweepInterval time.Duration

	queue      chan string
	cancelled  map[string]bool
	cancelMu   sync.Mutex
	inflight   map[string]bool
	inflightMu sync.Mutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	startMu    sync.Mutex
}

// NewManager creates a task manager. Start must be called before
// submitted tasks execute.
func NewManager(
	storage interfaces.TaskStorage,
	notifications interfaces.NotificationStorage,
	resolver interfaces.DataResolver,
	analyzer interfaces.Analyzer,
	events interfaces.EventService,
	config *common.TasksConfig,
	logger arbor.ILogger,
) *Manager {
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		storage:       storage,
		notifications: notifications,
		resolver:      resolver,
		analyzer:      analyzer,
		events:        events,
		validate:      validator.New(),
		logger:        logger,
		concurrency:   concurrency,
		stageTimeout:  config.StageTimeoutDuration(),
		sweepInterval: 3 * time.Second,
		queue:         make(chan string, concurrency*8),
		cancelled:     make(map[string]bool),
		inflight:      make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the worker pool and the dispatcher that keeps the
// stored queued backlog flowing into it.
func (m *Manager) Start() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.started {
		return fmt.Errorf("task manager already started")
	}
	m.started = true

	m.logger.Info().
		Int("workers", m.concurrency).
		Msg("Starting task manager")

	for i := 0; i < m.concurrency; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	m.wg.Add(1)
	go m.dispatch()

	return nil
}

// Stop drains the worker pool
func (m *Manager) Stop() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if !m.started {
		return nil
	}
	m.started = false

	m.cancel()
	m.wg.Wait()
	m.logger.Info().Msg("Task manager stopped")
	return nil
}

// Submit validates the submission, idempotently records the task, and
// schedules execution. Resubmitting an existing task ID returns that ID
// without touching the stored record.
func (m *Manager) Submit(ctx context.Context, spec *models.TaskSpec) (string, error) {
	if err := m.validate.Struct(spec); err != nil {
		return "", fmt.Errorf("invalid task spec: %w", err)
	}
	if !models.ValidMarketHint(spec.MarketHint) {
		return "", fmt.Errorf("unknown market hint: %s", spec.MarketHint)
	}

	taskID := spec.TaskID
	if taskID == "" {
		taskID = common.NewTaskID()
	}

	ownerID := spec.OwnerID
	if ownerID == "" {
		ownerID = "admin"
	}

	task := &models.Task{
		ID:         taskID,
		OwnerID:    ownerID,
		Subject:    spec.Subject,
		MarketHint: models.MarketHint(spec.MarketHint),
		Parameters: spec.Parameters,
		Status:     models.TaskStatusQueued,
	}

	stored, created, err := m.storage.Create(ctx, task)
	if err != nil {
		return "", err
	}
	if !created {
		m.logger.Info().
			Str("task_id", stored.ID).
			Str("status", string(stored.Status)).
			Msg("Duplicate submission, returning existing task")
		return stored.ID, nil
	}

	m.logger.Info().
		Str("task_id", stored.ID).
		Str("owner_id", stored.OwnerID).
		Str("subject", stored.Subject).
		Msg("Task submitted")

	if !m.enqueue(stored.ID) {
		// Queue saturated. The task stays queued in storage and the
		// dispatcher sweep re-offers it once a slot frees.
		m.logger.Warn().Str("task_id", stored.ID).Msg("Execution queue full, task deferred")
	}

	return stored.ID, nil
}

// enqueue marks the task in flight and offers it to the pool. A full
// channel releases the mark so the dispatcher can retry; a task already
// in flight is never offered twice.
func (m *Manager) enqueue(taskID string) bool {
	m.inflightMu.Lock()
	if m.inflight[taskID] {
		m.inflightMu.Unlock()
		return true
	}
	m.inflight[taskID] = true
	m.inflightMu.Unlock()

	select {
	case m.queue <- taskID:
		return true
	default:
		m.releaseInflight(taskID)
		return false
	}
}

func (m *Manager) releaseInflight(taskID string) {
	m.inflightMu.Lock()
	delete(m.inflight, taskID)
	m.inflightMu.Unlock()
}

// dispatch keeps the stored queued backlog flowing into the pool:
// deferred submissions, tasks left queued by a previous process, and
// anything the fast path missed are re-offered every sweep.
func (m *Manager) dispatch() {
	defer m.wg.Done()

	m.sweepBacklog()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepBacklog()
		case <-m.ctx.Done():
			m.logger.Debug().Msg("Dispatcher stopping")
			return
		}
	}
}

// sweepBacklog offers every stored queued task to the pool
func (m *Manager) sweepBacklog() {
	backlog, err := m.storage.ListByStatus(m.ctx, models.TaskStatusQueued)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to list queued backlog")
		return
	}

	deferred := 0
	for _, task := range backlog {
		if !m.enqueue(task.ID) {
			deferred++
		}
	}
	if deferred > 0 {
		m.logger.Debug().Int("count", deferred).Msg("Backlog tasks still deferred, queue full")
	}
}

// Get retrieves a task by ID
func (m *Manager) Get(ctx context.Context, taskID string) (*models.Task, error) {
	return m.storage.Get(ctx, taskID)
}

// ListForOwner returns the owner's tasks under any stored representation
// of their identity, newest first.
func (m *Manager) ListForOwner(ctx context.Context, ownerID string) ([]*models.Task, error) {
	return m.storage.ListByOwnerKeys(ctx, OwnerCandidateKeys(ownerID))
}

// Cancel requests cancellation. Queued tasks cancel immediately; running
// tasks observe the flag at their next stage checkpoint. Cancelling an
// already terminal task is a no-op.
func (m *Manager) Cancel(ctx context.Context, taskID string) error {
	task, err := m.storage.Get(ctx, taskID)
	if err != nil {
		return err
	}

	if task.Status.IsTerminal() {
		return nil
	}

	m.cancelMu.Lock()
	m.cancelled[taskID] = true
	m.cancelMu.Unlock()

	if task.Status == models.TaskStatusQueued {
		updated, err := m.storage.UpdateStatus(ctx, taskID, models.TaskStatusCancelled, "")
		if err != nil {
			// A worker may have raced the task into running; the flag
			// above still cancels it at the next checkpoint.
			m.logger.Debug().Err(err).Str("task_id", taskID).Msg("Queued cancel raced a worker")
			return nil
		}
		// The task is terminal without ever reaching a worker, so no
		// run defer will clear the flag.
		m.clearCancelled(taskID)
		m.emit(ctx, updated, models.EventCancelled)
		m.notify(ctx, updated)
	}

	m.logger.Info().Str("task_id", taskID).Msg("Task cancellation requested")
	return nil
}

func (m *Manager) isCancelled(taskID string) bool {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	return m.cancelled[taskID]
}

func (m *Manager) clearCancelled(taskID string) {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	delete(m.cancelled, taskID)
}

// worker consumes task IDs from the execution queue
func (m *Manager) worker(id int) {
	defer m.wg.Done()

	for {
		select {
		case taskID := <-m.queue:
			m.run(taskID)
		case <-m.ctx.Done():
			m.logger.Debug().Int("worker_id", id).Msg("Worker stopping")
			return
		}
	}
}

// run executes one task through its stages. Every stage boundary is a
// checkpoint: progress is persisted, an event is emitted, and the cancel
// flag is observed.
func (m *Manager) run(taskID string) {
	ctx := m.ctx
	defer m.releaseInflight(taskID)
	defer m.clearCancelled(taskID)

	task, err := m.storage.UpdateStatus(ctx, taskID, models.TaskStatusRunning, "")
	if err != nil {
		// Cancelled while queued, or already picked up elsewhere
		m.logger.Debug().Err(err).Str("task_id", taskID).Msg("Task not runnable, skipping")
		return
	}
	m.emit(ctx, task, models.EventStage)

	if task, err = m.checkpoint(ctx, taskID, 10, "resolving_data"); err != nil || task == nil {
		return
	}

	fetchCtx, cancelFetch := context.WithTimeout(ctx, m.stageTimeout)
	data, err := m.resolver.Fetch(fetchCtx, task.Subject, task.MarketHint, targetDate(task.Parameters))
	cancelFetch()
	if err != nil {
		m.fail(ctx, taskID, fmt.Sprintf("data resolution failed: %v", err))
		return
	}

	if task, err = m.checkpoint(ctx, taskID, 40, "data_ready"); err != nil || task == nil {
		return
	}

	analyzeCtx, cancelAnalyze := context.WithTimeout(ctx, m.stageTimeout)
	resultRef, err := m.analyzer.Analyze(analyzeCtx, task, data)
	cancelAnalyze()
	if err != nil {
		m.fail(ctx, taskID, fmt.Sprintf("analysis failed: %v", err))
		return
	}

	if task, err = m.checkpoint(ctx, taskID, 90, "finalizing"); err != nil || task == nil {
		return
	}

	if err := m.storage.SetResultRef(ctx, taskID, resultRef); err != nil {
		m.fail(ctx, taskID, fmt.Sprintf("failed to record result: %v", err))
		return
	}
	if _, err := m.storage.UpdateProgress(ctx, taskID, 100, "completed"); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to persist final progress")
	}

	task, err = m.storage.UpdateStatus(ctx, taskID, models.TaskStatusSucceeded, "")
	if err != nil {
		m.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to mark task succeeded")
		return
	}

	m.emit(ctx, task, models.EventCompleted)
	m.notify(ctx, task)

	m.logger.Info().
		Str("task_id", taskID).
		Str("result_ref", resultRef).
		Msg("Task completed")
}

// targetDate extracts the optional analysis date from task parameters.
// A missing or malformed date resolves to the zero time, which the data
// layer treats as "now".
func targetDate(parameters json.RawMessage) time.Time {
	if len(parameters) == 0 {
		return time.Time{}
	}
	var params struct {
		AnalysisDate string `json:"analysis_date"`
	}
	if err := json.Unmarshal(parameters, &params); err != nil || params.AnalysisDate == "" {
		return time.Time{}
	}
	target, err := time.Parse("2006-01-02", params.AnalysisDate)
	if err != nil {
		return time.Time{}
	}
	return target
}

// checkpoint persists a progress update and honors a pending cancel.
// Returns a nil task when the run must stop.
func (m *Manager) checkpoint(ctx context.Context, taskID string, percent int, stage string) (*models.Task, error) {
	if m.isCancelled(taskID) {
		task, err := m.storage.UpdateStatus(ctx, taskID, models.TaskStatusCancelled, "")
		if err != nil {
			m.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to persist cancellation")
			return nil, err
		}
		m.emit(ctx, task, models.EventCancelled)
		m.notify(ctx, task)
		m.logger.Info().Str("task_id", taskID).Str("stage", stage).Msg("Task cancelled at checkpoint")
		return nil, nil
	}

	task, err := m.storage.UpdateProgress(ctx, taskID, percent, stage)
	if err != nil {
		m.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to persist progress")
		return nil, err
	}
	m.emit(ctx, task, models.EventStage)
	return task, nil
}

// fail marks the task failed and emits the terminal event
func (m *Manager) fail(ctx context.Context, taskID string, reason string) {
	task, err := m.storage.UpdateStatus(ctx, taskID, models.TaskStatusFailed, reason)
	if err != nil {
		m.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to mark task failed")
		return
	}

	m.emit(ctx, task, models.EventFailed)
	m.notify(ctx, task)

	m.logger.Error().
		Str("task_id", taskID).
		Str("reason", reason).
		Msg("Task failed")
}

// emit publishes one progress event for the task's current state
func (m *Manager) emit(ctx context.Context, task *models.Task, eventType models.ProgressEventType) {
	m.events.Publish(ctx, models.ProgressEvent{
		EntityKind: models.EntityTask,
		EntityID:   task.ID,
		OwnerID:    task.OwnerID,
		Type:       eventType,
		EmittedAt:  time.Now(),
		Payload: models.TaskProgressPayload{
			Status:          task.Status,
			ProgressPercent: task.ProgressPercent,
			StageLabel:      task.StageLabel,
			Error:           task.Error,
			ResultRef:       task.ResultRef,
		},
	})
}

// notify persists a notification for a terminal task state
func (m *Manager) notify(ctx context.Context, task *models.Task) {
	if m.notifications == nil || !task.Status.IsTerminal() {
		return
	}

	var title string
	switch task.Status {
	case models.TaskStatusSucceeded:
		title = fmt.Sprintf("Analysis of %s completed", task.Subject)
	case models.TaskStatusFailed:
		title = fmt.Sprintf("Analysis of %s failed", task.Subject)
	case models.TaskStatusCancelled:
		title = fmt.Sprintf("Analysis of %s cancelled", task.Subject)
	}

	body := task.Error
	if task.Status == models.TaskStatusSucceeded && task.ResultRef != "" {
		detail := map[string]string{"result_ref": task.ResultRef}
		if encoded, err := json.Marshal(detail); err == nil {
			body = string(encoded)
		}
	}

	notification := &models.Notification{
		ID:      common.NewNotificationID(),
		OwnerID: task.OwnerID,
		Type:    models.NotificationAnalysis,
		Title:   title,
		Body:    body,
		TaskID:  task.ID,
	}
	if err := m.notifications.Save(ctx, notification); err != nil {
		m.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to save notification")
	}
}
