package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"relist/internal/models"
)

type JobStore struct{ db *gorm.DB }

func NewJobStore(db *gorm.DB) *JobStore { return &JobStore{db: db} }

// CreateIfIdle создаёт задачу, только если у листинга нет другой в
// pending/running — инвариант «не больше одной активной на листинг»
// держится именно здесь, в момент создания.
func (s *JobStore) CreateIfIdle(ctx context.Context, job *models.RefreshJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.RefreshJob{}).
			Where("listing_id = ? AND status IN ?", job.ListingID,
				[]string{models.JobStatusPending, models.JobStatusRunning}).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrJobActive
		}
		return tx.Create(job).Error
	})
}

// ClaimNext захватывает самую старую pending-задачу по (scheduled_at,
// created_at). Переход pending→running — одиночный условный UPDATE:
// RowsAffected==0 значит, что задачу увёл параллельный воркер, берём
// следующую. Возвращает (nil, nil), когда очередь пуста.
func (s *JobStore) ClaimNext(ctx context.Context, now time.Time) (*models.RefreshJob, error) {
	for attempt := 0; attempt < 5; attempt++ {
		var j models.RefreshJob
		err := s.db.WithContext(ctx).
			Where("status = ?", models.JobStatusPending).
			Order("scheduled_at asc, created_at asc").
			First(&j).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res := s.db.WithContext(ctx).Model(&models.RefreshJob{}).
			Where("id = ? AND status = ?", j.ID, models.JobStatusPending).
			Updates(map[string]any{
				"status":     models.JobStatusRunning,
				"started_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			j.Status = models.JobStatusRunning
			j.StartedAt = &now
			return &j, nil
		}
		// проиграли гонку — следующая итерация возьмёт другую задачу
	}
	return nil, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.RefreshJob, error) {
	var j models.RefreshJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &j, err
}

// Complete / Fail переводят задачу в терминальный статус.
func (s *JobStore) Complete(ctx context.Context, id string, at time.Time) error {
	return s.finish(ctx, id, models.JobStatusCompleted, "", at)
}

func (s *JobStore) Fail(ctx context.Context, id, errMsg string, at time.Time) error {
	return s.finish(ctx, id, models.JobStatusFailed, errMsg, at)
}

func (s *JobStore) finish(ctx context.Context, id, status, errMsg string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.RefreshJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		Updates(map[string]any{
			"status":        status,
			"completed_at":  at,
			"error_message": errMsg,
		}).Error
}

// Cancel отменяет задачу, пока она pending. running трогать нельзя —
// внешний вызов уже мог уйти на портал.
func (s *JobStore) Cancel(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.RefreshJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusPending).
		Update("status", models.JobStatusCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelForSchedule — каскад при удалении/остановке расписания.
func (s *JobStore) CancelForSchedule(ctx context.Context, scheduleID uint) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.RefreshJob{}).
		Where("schedule_id = ? AND status = ?", scheduleID, models.JobStatusPending).
		Update("status", models.JobStatusCancelled)
	return res.RowsAffected, res.Error
}

// JobFilter — фильтры поверхности запросов по задачам.
type JobFilter struct {
	Status     string
	ScheduleID *uint
	ListingID  *uint
	From, To   *time.Time
	Limit      int
}

func (s *JobStore) ListJobs(ctx context.Context, f JobFilter) ([]models.RefreshJob, error) {
	q := s.db.WithContext(ctx).Model(&models.RefreshJob{}).Order("created_at desc")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ScheduleID != nil {
		q = q.Where("schedule_id = ?", *f.ScheduleID)
	}
	if f.ListingID != nil {
		q = q.Where("listing_id = ?", *f.ListingID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var jobs []models.RefreshJob
	return jobs, q.Limit(limit).Find(&jobs).Error
}

// JobStats — агрегаты по задачам за окно.
type JobStats struct {
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"by_status"`
	SuccessRate float64          `json:"success_rate"` // completed / (completed+failed)
}

func (s *JobStore) Stats(ctx context.Context, since time.Time) (*JobStats, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.RefreshJob{}).
		Select("status, count(*) as n").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	st := &JobStats{ByStatus: make(map[string]int64)}
	for _, r := range rows {
		st.ByStatus[r.Status] = r.N
		st.Total += r.N
	}
	done := st.ByStatus[models.JobStatusCompleted] + st.ByStatus[models.JobStatusFailed]
	if done > 0 {
		st.SuccessRate = float64(st.ByStatus[models.JobStatusCompleted]) / float64(done)
	}
	return st, nil
}

// PurgeTerminalBefore чистит старые терминальные задачи (housekeeping).
func (s *JobStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	// у cancelled нет completed_at — ориентируемся на updated_at
	res := s.db.WithContext(ctx).
		Where("status IN ? AND (completed_at < ? OR (completed_at IS NULL AND updated_at < ?))",
			[]string{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
			cutoff, cutoff).
		Delete(&models.RefreshJob{})
	return res.RowsAffected, res.Error
}
