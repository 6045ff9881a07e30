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

// DataSourceStorage implements the DataSourceStorage interface for Badger
type DataSourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDataSourceStorage creates a new DataSourceStorage instance
func NewDataSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DataSourceStorage {
	return &DataSourceStorage{
		db:     db,
		logger: logger,
	}
}

// Save upserts a provider configuration. New configs get the next
// insertion position so priority ties break deterministically.
func (s *DataSourceStorage) Save(ctx context.Context, config *models.DataSourceConfig) error {
	if config.Name == "" {
		return fmt.Errorf("data source name is required")
	}

	var existing models.DataSourceConfig
	err := s.db.Store().Get(config.Name, &existing)
	switch err {
	case nil:
		config.Position = existing.Position
	case badgerhold.ErrNotFound:
		count, cntErr := s.db.Store().Count(&models.DataSourceConfig{}, nil)
		if cntErr != nil {
			return fmt.Errorf("failed to count data sources: %w", cntErr)
		}
		config.Position = int(count)
	default:
		return fmt.Errorf("failed to read data source: %w", err)
	}

	config.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(config.Name, config); err != nil {
		return fmt.Errorf("failed to save data source: %w", err)
	}

	s.logger.Debug().
		Str("name", config.Name).
		Int("priority", config.Priority).
		Bool("enabled", config.Enabled).
		Msg("Data source configuration saved")

	return nil
}

// Get retrieves one provider configuration by name
func (s *DataSourceStorage) Get(ctx context.Context, name string) (*models.DataSourceConfig, error) {
	var config models.DataSourceConfig
	err := s.db.Store().Get(name, &config)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("data source not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}
	return &config, nil
}

// List returns all provider configurations in insertion order
func (s *DataSourceStorage) List(ctx context.Context) ([]*models.DataSourceConfig, error) {
	var configs []models.DataSourceConfig
	query := badgerhold.Where("Name").Ne("").SortBy("Position")
	if err := s.db.Store().Find(&configs, query); err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}

	result := make([]*models.DataSourceConfig, len(configs))
	for i := range configs {
		result[i] = &configs[i]
	}
	return result, nil
}

// Delete removes a provider configuration
func (s *DataSourceStorage) Delete(ctx context.Context, name string) error {
	if err := s.db.Store().Delete(name, &models.DataSourceConfig{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	return nil
}
