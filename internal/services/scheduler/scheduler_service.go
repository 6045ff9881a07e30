package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// ErrJobNotFound is returned for operations on an unregistered job ID
var ErrJobNotFound = errors.New("job not found")

// jobEntry is one registered job with its runtime state
type jobEntry struct {
	def      *models.JobDefinition
	fn       interfaces.JobFunc
	cronID   cron.EntryID
	paused   bool
	running  int // Current concurrent executions
	lastRun  *time.Time
	lastErr  string
}

// Service implements SchedulerService on a cron engine. Each job carries
// a max_instances cap: a fire that would exceed the cap is skipped and
// recorded in history rather than queued.
type Service struct {
	cron         *cron.Cron
	history      interfaces.JobHistoryStorage
	metadata     interfaces.JobMetadataStorage
	events       interfaces.EventService
	historyLimit int
	logger       arbor.ILogger

	jobs    map[string]*jobEntry
	jobMu   sync.Mutex
	running bool
	runMu   sync.Mutex
}

// NewService creates a scheduler service
func NewService(history interfaces.JobHistoryStorage, metadata interfaces.JobMetadataStorage, events interfaces.EventService, historyLimit int, logger arbor.ILogger) *Service {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Service{
		cron:         cron.New(),
		history:      history,
		metadata:     metadata,
		events:       events,
		historyLimit: historyLimit,
		logger:       logger,
		jobs:         make(map[string]*jobEntry),
	}
}

var _ interfaces.SchedulerService = (*Service)(nil)

// Start begins the cron engine
func (s *Service) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.cron.Start()
	s.running = true

	s.jobMu.Lock()
	count := len(s.jobs)
	s.jobMu.Unlock()

	s.logger.Info().Int("jobs", count).Msg("Scheduler started")
	return nil
}

// Stop halts the cron engine and waits for running fires to finish
func (s *Service) Stop() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return nil
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Scheduler stop timed out waiting for running jobs")
	}
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the cron engine is started
func (s *Service) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// RegisterJob registers a job and schedules it. A paused definition is
// scheduled but its fires are skipped until resumed.
func (s *Service) RegisterJob(def *models.JobDefinition, fn interfaces.JobFunc) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("job definition requires an ID")
	}
	if def.Schedule == "" {
		return fmt.Errorf("job %s requires a schedule", def.ID)
	}
	if fn == nil {
		return fmt.Errorf("job %s requires a handler", def.ID)
	}

	maxInstances := def.MaxInstances
	if maxInstances <= 0 {
		maxInstances = 1
		def.MaxInstances = maxInstances
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[def.ID]; exists {
		return fmt.Errorf("job %s is already registered", def.ID)
	}

	entry := &jobEntry{
		def:    def,
		fn:     fn,
		paused: def.Paused,
	}

	jobID := def.ID
	cronID, err := s.cron.AddFunc(def.Schedule, func() {
		s.fire(jobID, models.JobActionRun)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule for job %s: %w", def.ID, err)
	}
	entry.cronID = cronID
	s.jobs[def.ID] = entry

	// Stored display overrides survive restarts and beat the definition
	if s.metadata != nil {
		if meta, err := s.metadata.Get(context.Background(), def.ID); err == nil && meta != nil {
			if meta.DisplayName != "" {
				def.DisplayName = meta.DisplayName
			}
			if meta.Description != "" {
				def.Description = meta.Description
			}
		}
	}

	s.logger.Info().
		Str("job_id", def.ID).
		Str("schedule", def.Schedule).
		Int("max_instances", maxInstances).
		Bool("paused", entry.paused).
		Msg("Job registered")

	return nil
}

// fire runs one execution of the job, honoring pause state and the
// max_instances cap. Panics in the handler are contained and recorded.
func (s *Service) fire(jobID string, action models.JobHistoryAction) {
	s.jobMu.Lock()
	entry, ok := s.jobs[jobID]
	if !ok {
		s.jobMu.Unlock()
		return
	}

	if entry.paused && action != models.JobActionTrigger {
		s.jobMu.Unlock()
		s.logger.Debug().Str("job_id", jobID).Msg("Job paused, fire skipped")
		return
	}

	if entry.running >= entry.def.MaxInstances {
		running := entry.running
		s.jobMu.Unlock()
		s.logger.Warn().
			Str("job_id", jobID).
			Int("running", running).
			Msg("Job fire skipped, max instances reached")
		s.record(jobID, models.JobActionSkipped, "skipped",
			fmt.Sprintf("max_instances=%d reached", running), 0)
		return
	}

	entry.running++
	fn := entry.fn
	s.jobMu.Unlock()

	go s.execute(jobID, action, fn)
}

// execute runs the job body and records the outcome
func (s *Service) execute(jobID string, action models.JobHistoryAction, fn interfaces.JobFunc) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_id", jobID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Job panicked")
			s.finish(jobID, started, fmt.Errorf("panic: %v", r), action)
		}
	}()

	s.logger.Info().Str("job_id", jobID).Msg("Job starting")
	err := fn()
	s.finish(jobID, started, err, action)
}

// finish updates runtime state and writes the history entry
func (s *Service) finish(jobID string, started time.Time, err error, action models.JobHistoryAction) {
	duration := time.Since(started)

	s.jobMu.Lock()
	if entry, ok := s.jobs[jobID]; ok {
		if entry.running > 0 {
			entry.running--
		}
		now := time.Now()
		entry.lastRun = &now
		if err != nil {
			entry.lastErr = err.Error()
		} else {
			entry.lastErr = ""
		}
	}
	s.jobMu.Unlock()

	status := "success"
	message := ""
	if err != nil {
		status = "failed"
		message = err.Error()
		s.logger.Error().Err(err).Str("job_id", jobID).Dur("duration", duration).Msg("Job failed")
	} else {
		s.logger.Info().Str("job_id", jobID).Dur("duration", duration).Msg("Job completed")
	}

	s.record(jobID, action, status, message, duration)

	if s.events != nil {
		eventType := models.EventCompleted
		if err != nil {
			eventType = models.EventFailed
		}
		s.events.Publish(context.Background(), models.ProgressEvent{
			EntityKind: models.EntityJob,
			EntityID:   jobID,
			Type:       eventType,
			EmittedAt:  time.Now(),
			Payload: map[string]interface{}{
				"status":      status,
				"duration_ms": duration.Milliseconds(),
				"message":     message,
			},
		})
	}
}

// record appends one history entry and prunes old ones
func (s *Service) record(jobID string, action models.JobHistoryAction, status, message string, duration time.Duration) {
	if s.history == nil {
		return
	}

	ctx := context.Background()
	entry := &models.JobHistoryEntry{
		JobID:     jobID,
		Action:    action,
		Status:    status,
		Message:   message,
		Duration:  duration,
		Timestamp: time.Now(),
	}
	if err := s.history.Append(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to record job history")
		return
	}
	if err := s.history.Prune(ctx, jobID, s.historyLimit); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to prune job history")
	}
}

// ListJobs returns the status of every registered job
func (s *Service) ListJobs() []*interfaces.JobStatus {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	result := make([]*interfaces.JobStatus, 0, len(s.jobs))
	for _, entry := range s.jobs {
		result = append(result, s.statusLocked(entry))
	}
	return result
}

// GetJob returns the status of one job
func (s *Service) GetJob(jobID string) (*interfaces.JobStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return s.statusLocked(entry), nil
}

// statusLocked builds a JobStatus; caller holds jobMu
func (s *Service) statusLocked(entry *jobEntry) *interfaces.JobStatus {
	status := &interfaces.JobStatus{
		ID:           entry.def.ID,
		DisplayName:  entry.def.DisplayName,
		Description:  entry.def.Description,
		Schedule:     entry.def.Schedule,
		Paused:       entry.paused,
		MaxInstances: entry.def.MaxInstances,
		Running:      entry.running,
		LastRun:      entry.lastRun,
		LastError:    entry.lastErr,
	}
	if !entry.paused {
		cronEntry := s.cron.Entry(entry.cronID)
		if !cronEntry.Next.IsZero() {
			next := cronEntry.Next
			status.NextRun = &next
		}
	}
	return status
}

// Pause stops future fires of the job. Running executions finish.
func (s *Service) Pause(jobID string) error {
	s.jobMu.Lock()
	entry, ok := s.jobs[jobID]
	if !ok {
		s.jobMu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	alreadyPaused := entry.paused
	entry.paused = true
	s.jobMu.Unlock()

	if !alreadyPaused {
		s.record(jobID, models.JobActionPause, "success", "", 0)
		s.logger.Info().Str("job_id", jobID).Msg("Job paused")
	}
	return nil
}

// Resume re-enables fires of a paused job
func (s *Service) Resume(jobID string) error {
	s.jobMu.Lock()
	entry, ok := s.jobs[jobID]
	if !ok {
		s.jobMu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	wasPaused := entry.paused
	entry.paused = false
	s.jobMu.Unlock()

	if wasPaused {
		s.record(jobID, models.JobActionResume, "success", "", 0)
		s.logger.Info().Str("job_id", jobID).Msg("Job resumed")
	}
	return nil
}

// Trigger fires the job out of band. Pause state does not block a manual
// trigger, but the max_instances cap still applies.
func (s *Service) Trigger(jobID string) error {
	s.jobMu.Lock()
	_, ok := s.jobs[jobID]
	s.jobMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	s.logger.Info().Str("job_id", jobID).Msg("Job triggered manually")
	s.fire(jobID, models.JobActionTrigger)
	return nil
}

// History returns recorded outcomes and actions for one job
func (s *Service) History(jobID string, limit, offset int) ([]*models.JobHistoryEntry, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListByJob(context.Background(), jobID, limit, offset)
}

// GlobalHistory returns recorded outcomes across all jobs
func (s *Service) GlobalHistory(limit, offset int) ([]*models.JobHistoryEntry, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.ListAll(context.Background(), limit, offset)
}

// UpdateMetadata persists operator-editable display fields and applies
// them to the live job.
func (s *Service) UpdateMetadata(jobID, displayName, description string) error {
	s.jobMu.Lock()
	entry, ok := s.jobs[jobID]
	if !ok {
		s.jobMu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if displayName != "" {
		entry.def.DisplayName = displayName
	}
	if description != "" {
		entry.def.Description = description
	}
	s.jobMu.Unlock()

	if s.metadata == nil {
		return nil
	}
	return s.metadata.Save(context.Background(), &models.JobMetadata{
		JobID:       jobID,
		DisplayName: displayName,
		Description: description,
		UpdatedAt:   time.Now(),
	})
}

// Stats summarizes the scheduler engine state
func (s *Service) Stats() interfaces.SchedulerStats {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	stats := interfaces.SchedulerStats{
		TotalJobs: len(s.jobs),
		Running:   s.engineRunning(),
	}
	for _, entry := range s.jobs {
		if entry.running > 0 {
			stats.RunningJobs++
		}
		if entry.paused {
			stats.PausedJobs++
		}
	}
	return stats
}

// engineRunning reads the engine flag without taking jobMu
func (s *Service) engineRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}
