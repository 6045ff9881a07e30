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

// NotificationStorage implements the NotificationStorage interface for Badger
type NotificationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewNotificationStorage creates a new NotificationStorage instance
func NewNotificationStorage(db *BadgerDB, logger arbor.ILogger) interfaces.NotificationStorage {
	return &NotificationStorage{
		db:     db,
		logger: logger,
	}
}

// Save persists a notification
func (s *NotificationStorage) Save(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		return fmt.Errorf("notification ID is required")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(n.ID, n); err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	return nil
}

func ownerQuery(ownerKeys []string) *badgerhold.Query {
	keys := make([]interface{}, len(ownerKeys))
	for i, k := range ownerKeys {
		keys[i] = k
	}
	return badgerhold.Where("OwnerID").In(keys...)
}

// List returns a page of notifications for the owner, newest first.
// status filters "read"/"unread"; ntype filters by notification type;
// empty strings disable the respective filter.
func (s *NotificationStorage) List(ctx context.Context, ownerKeys []string, status, ntype string, page, pageSize int) ([]*models.Notification, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := ownerQuery(ownerKeys)
	switch status {
	case "read":
		query = query.And("Read").Eq(true)
	case "unread":
		query = query.And("Read").Eq(false)
	}
	if ntype != "" {
		query = query.And("Type").Eq(models.NotificationType(ntype))
	}

	count, err := s.db.Store().Count(&models.Notification{}, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	var items []models.Notification
	paged := query.SortBy("CreatedAt").Reverse().Skip((page - 1) * pageSize).Limit(pageSize)
	if err := s.db.Store().Find(&items, paged); err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}

	result := make([]*models.Notification, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, int(count), nil
}

// UnreadCount returns the number of unread notifications for the owner
func (s *NotificationStorage) UnreadCount(ctx context.Context, ownerKeys []string) (int, error) {
	query := ownerQuery(ownerKeys).And("Read").Eq(false)
	count, err := s.db.Store().Count(&models.Notification{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return int(count), nil
}

// MarkRead marks one notification read. Returns false when the
// notification does not exist or belongs to another owner.
func (s *NotificationStorage) MarkRead(ctx context.Context, ownerKeys []string, notifID string) (bool, error) {
	var n models.Notification
	err := s.db.Store().Get(notifID, &n)
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get notification: %w", err)
	}

	owned := false
	for _, k := range ownerKeys {
		if n.OwnerID == k {
			owned = true
			break
		}
	}
	if !owned {
		return false, nil
	}

	if n.Read {
		return true, nil
	}
	n.Read = true
	if err := s.db.Store().Update(notifID, &n); err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return true, nil
}

// MarkAllRead marks every unread notification of the owner read and
// returns the number updated
func (s *NotificationStorage) MarkAllRead(ctx context.Context, ownerKeys []string) (int, error) {
	var items []models.Notification
	query := ownerQuery(ownerKeys).And("Read").Eq(false)
	if err := s.db.Store().Find(&items, query); err != nil {
		return 0, fmt.Errorf("failed to find unread notifications: %w", err)
	}

	updated := 0
	for i := range items {
		items[i].Read = true
		if err := s.db.Store().Update(items[i].ID, &items[i]); err != nil {
			s.logger.Warn().Err(err).Str("notification_id", items[i].ID).Msg("Failed to mark notification read")
			continue
		}
		updated++
	}
	return updated, nil
}
