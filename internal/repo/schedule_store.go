package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"relist/internal/models"
)

type ScheduleStore struct{ db *gorm.DB }

func NewScheduleStore(db *gorm.DB) *ScheduleStore { return &ScheduleStore{db: db} }

func (s *ScheduleStore) Create(ctx context.Context, def *models.ScheduleDefinition) error {
	return s.db.WithContext(ctx).Create(def).Error
}

func (s *ScheduleStore) Get(ctx context.Context, id uint) (*models.ScheduleDefinition, error) {
	var def models.ScheduleDefinition
	err := s.db.WithContext(ctx).Preload("Targets").First(&def, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &def, err
}

func (s *ScheduleStore) List(ctx context.Context, tenantID string) ([]models.ScheduleDefinition, error) {
	var defs []models.ScheduleDefinition
	q := s.db.WithContext(ctx).Preload("Targets").Order("id asc")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	return defs, q.Find(&defs).Error
}

func (s *ScheduleStore) Update(ctx context.Context, def *models.ScheduleDefinition) error {
	return s.db.WithContext(ctx).Save(def).Error
}

// Delete удаляет расписание вместе с привязками. Каскадную отмену его
// pending-задач делает вызывающая сторона (JobStore.CancelForSchedule) —
// здесь одна транзакция на обе записи расписания.
func (s *ScheduleStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("schedule_id = ?", id).Delete(&models.ScheduleTarget{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.ScheduleDefinition{}, id).Error
	})
}

func (s *ScheduleStore) AddTarget(ctx context.Context, scheduleID, listingID uint) error {
	return s.db.WithContext(ctx).Create(&models.ScheduleTarget{
		ScheduleID: scheduleID,
		ListingID:  listingID,
	}).Error
}

func (s *ScheduleStore) RemoveTarget(ctx context.Context, scheduleID, listingID uint) error {
	return s.db.WithContext(ctx).
		Where("schedule_id = ? AND listing_id = ?", scheduleID, listingID).
		Delete(&models.ScheduleTarget{}).Error
}

func (s *ScheduleStore) TargetListingIDs(ctx context.Context, scheduleID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.ScheduleTarget{}).
		Where("schedule_id = ?", scheduleID).
		Order("listing_id asc").
		Pluck("listing_id", &ids).Error
	return ids, err
}

// ListDue отдаёт активные расписания с подошедшим next_run_at.
func (s *ScheduleStore) ListDue(ctx context.Context, now time.Time) ([]models.ScheduleDefinition, error) {
	var defs []models.ScheduleDefinition
	err := s.db.WithContext(ctx).
		Where("active = ? AND next_run_at <= ?", true, now).
		Order("next_run_at asc").
		Find(&defs).Error
	return defs, err
}

// MarkRun фиксирует факт прогона: last_run_at + новый next_run_at.
func (s *ScheduleStore) MarkRun(ctx context.Context, id uint, lastRun, nextRun time.Time) error {
	return s.db.WithContext(ctx).Model(&models.ScheduleDefinition{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_run_at": lastRun,
			"next_run_at": nextRun,
		}).Error
}

// SetNextRun двигает только next_run_at (расписание ещё не прогонялось,
// например не добран интервал в днях).
func (s *ScheduleStore) SetNextRun(ctx context.Context, id uint, nextRun time.Time) error {
	return s.db.WithContext(ctx).Model(&models.ScheduleDefinition{}).
		Where("id = ?", id).
		Update("next_run_at", nextRun).Error
}
