package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"relist/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrJobActive = errors.New("listing already has an active job")
)

type ListingStore struct{ db *gorm.DB }

func NewListingStore(db *gorm.DB) *ListingStore { return &ListingStore{db: db} }

func (s *ListingStore) Create(ctx context.Context, l *models.Listing) error {
	return s.db.WithContext(ctx).Create(l).Error
}

func (s *ListingStore) Get(ctx context.Context, id uint) (*models.Listing, error) {
	var l models.Listing
	err := s.db.WithContext(ctx).First(&l, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &l, err
}

func (s *ListingStore) GetByExternalID(ctx context.Context, tenantID, externalID string) (*models.Listing, error) {
	var l models.Listing
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &l, err
}

// SetRemoteID фиксирует найденный/созданный id портала (в т.ч. лечит
// протухший указатель).
func (s *ListingStore) SetRemoteID(ctx context.Context, id uint, remoteID string) error {
	return s.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ?", id).
		Update("remote_id", remoteID).Error
}

func (s *ListingStore) SetStatus(ctx context.Context, id uint, status, message string) error {
	upd := map[string]any{
		"status":         status,
		"status_message": message,
	}
	if status == models.ListingStatusPublished {
		now := time.Now().UTC()
		upd["published_at"] = now
	}
	return s.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ?", id).
		Updates(upd).Error
}

// UpdateMedia сохраняет медиа-набор после загрузки на портал
// (remote_url проставлены у загруженных).
func (s *ListingStore) UpdateMedia(ctx context.Context, id uint, media []models.MediaAsset) error {
	raw, err := json.Marshal(media)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ?", id).
		Update("media", raw).Error
}

func (s *ListingStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.Listing{}, id).Error
}
