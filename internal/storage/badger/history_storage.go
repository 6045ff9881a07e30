package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/mayishidai/tradingagents-cn/internal/common"
	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// JobHistoryStorage implements the JobHistoryStorage interface for Badger
type JobHistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobHistoryStorage creates a new JobHistoryStorage instance
func NewJobHistoryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobHistoryStorage {
	return &JobHistoryStorage{
		db:     db,
		logger: logger,
	}
}

// Append records one history entry
func (s *JobHistoryStorage) Append(ctx context.Context, entry *models.JobHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = common.NewRunID()
	}
	if err := s.db.Store().Insert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to append job history: %w", err)
	}
	return nil
}

// ListByJob returns history entries for one job, newest first
func (s *JobHistoryStorage) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]*models.JobHistoryEntry, error) {
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("Timestamp").Reverse()
	if offset > 0 {
		query = query.Skip(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []models.JobHistoryEntry
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}

	result := make([]*models.JobHistoryEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

// ListAll returns history entries across all jobs, newest first
func (s *JobHistoryStorage) ListAll(ctx context.Context, limit, offset int) ([]*models.JobHistoryEntry, error) {
	query := badgerhold.Where("JobID").Ne("").SortBy("Timestamp").Reverse()
	if offset > 0 {
		query = query.Skip(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []models.JobHistoryEntry
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}

	result := make([]*models.JobHistoryEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

// Prune drops entries of a job beyond the newest keep entries
func (s *JobHistoryStorage) Prune(ctx context.Context, jobID string, keep int) error {
	if keep <= 0 {
		return nil
	}

	var stale []models.JobHistoryEntry
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("Timestamp").Reverse().Skip(keep)
	if err := s.db.Store().Find(&stale, query); err != nil {
		return fmt.Errorf("failed to find stale history: %w", err)
	}

	for i := range stale {
		if err := s.db.Store().Delete(stale[i].ID, &models.JobHistoryEntry{}); err != nil && err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Str("entry_id", stale[i].ID).Msg("Failed to prune history entry")
		}
	}
	return nil
}

// JobMetadataStorage implements the JobMetadataStorage interface for Badger
type JobMetadataStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobMetadataStorage creates a new JobMetadataStorage instance
func NewJobMetadataStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobMetadataStorage {
	return &JobMetadataStorage{
		db:     db,
		logger: logger,
	}
}

// Save upserts job metadata
func (s *JobMetadataStorage) Save(ctx context.Context, meta *models.JobMetadata) error {
	if meta.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(meta.JobID, meta); err != nil {
		return fmt.Errorf("failed to save job metadata: %w", err)
	}
	return nil
}

// Get retrieves job metadata, or nil when none is stored
func (s *JobMetadataStorage) Get(ctx context.Context, jobID string) (*models.JobMetadata, error) {
	var meta models.JobMetadata
	err := s.db.Store().Get(jobID, &meta)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job metadata: %w", err)
	}
	return &meta, nil
}
