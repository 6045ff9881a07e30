package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/common"
	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db           *BadgerDB
	task         interfaces.TaskStorage
	dataSource   interfaces.DataSourceStorage
	jobHistory   interfaces.JobHistoryStorage
	jobMetadata  interfaces.JobMetadataStorage
	notification interfaces.NotificationStorage
	kv           interfaces.KeyValueStorage
	logger       arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		task:         NewTaskStorage(db, logger),
		dataSource:   NewDataSourceStorage(db, logger),
		jobHistory:   NewJobHistoryStorage(db, logger),
		jobMetadata:  NewJobMetadataStorage(db, logger),
		notification: NewNotificationStorage(db, logger),
		kv:           NewKVStorage(db, logger),
		logger:       logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// TaskStorage returns the Task storage interface
func (m *Manager) TaskStorage() interfaces.TaskStorage {
	return m.task
}

// DataSourceStorage returns the DataSource storage interface
func (m *Manager) DataSourceStorage() interfaces.DataSourceStorage {
	return m.dataSource
}

// JobHistoryStorage returns the JobHistory storage interface
func (m *Manager) JobHistoryStorage() interfaces.JobHistoryStorage {
	return m.jobHistory
}

// JobMetadataStorage returns the JobMetadata storage interface
func (m *Manager) JobMetadataStorage() interfaces.JobMetadataStorage {
	return m.jobMetadata
}

// NotificationStorage returns the Notification storage interface
func (m *Manager) NotificationStorage() interfaces.NotificationStorage {
	return m.notification
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
