package repo

import (
	"context"

	"gorm.io/gorm"

	"relist/internal/models"
)

type NotificationStore struct{ db *gorm.DB }

func NewNotificationStore(db *gorm.DB) *NotificationStore { return &NotificationStore{db: db} }

func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *NotificationStore) List(ctx context.Context, tenantID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("id desc").Limit(limit)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	var out []models.Notification
	return out, q.Find(&out).Error
}

func (s *NotificationStore) MarkRead(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", id).
		Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
