package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"relist/internal/models"
)

type AuditStore struct{ db *gorm.DB }

func NewAuditStore(db *gorm.DB) *AuditStore { return &AuditStore{db: db} }

func (s *AuditStore) Create(ctx context.Context, a *models.SyncAudit) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *AuditStore) Complete(ctx context.Context, id uint, newRemoteID, step string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.SyncAudit{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.AuditStatusCompleted,
			"new_remote_id": newRemoteID,
			"step":          step,
			"completed_at":  now,
		}).Error
}

func (s *AuditStore) Fail(ctx context.Context, id uint, step, errMsg string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.SyncAudit{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.AuditStatusFailed,
			"step":          step,
			"error_message": errMsg,
			"completed_at":  now,
		}).Error
}

func (s *AuditStore) ListForListing(ctx context.Context, listingID uint, limit int) ([]models.SyncAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.SyncAudit
	err := s.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
