// Package scheduler материализует расписания в задачи обновления.
// Сам синхронизацией не занимается — только решает «кому пора» и
// кладёт задачи в очередь.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"relist/internal/logs"
	"relist/internal/models"
	"relist/internal/repo"
)

// Schedules — консьюмерский срез хранилища расписаний.
type Schedules interface {
	ListDue(ctx context.Context, now time.Time) ([]models.ScheduleDefinition, error)
	TargetListingIDs(ctx context.Context, scheduleID uint) ([]uint, error)
	MarkRun(ctx context.Context, id uint, lastRun, nextRun time.Time) error
	SetNextRun(ctx context.Context, id uint, nextRun time.Time) error
}

// Jobs — очередь задач.
type Jobs interface {
	CreateIfIdle(ctx context.Context, job *models.RefreshJob) error
}

type Evaluator struct {
	Schedules Schedules
	Jobs      Jobs
	Now       func() time.Time
}

func NewEvaluator(schedules Schedules, jobs Jobs) *Evaluator {
	return &Evaluator{Schedules: schedules, Jobs: jobs, Now: time.Now}
}

// RunDue обрабатывает все созревшие расписания. Сбой одного расписания
// изолирован и не мешает остальным; возвращает число созданных задач.
func (e *Evaluator) RunDue(ctx context.Context) int {
	now := e.Now().UTC()
	due, err := e.Schedules.ListDue(ctx, now)
	if err != nil {
		logs.Logger.Errorf("scheduler: list due: %v", err)
		return 0
	}

	created := 0
	for i := range due {
		n, err := e.runOne(ctx, &due[i], now)
		if err != nil {
			logs.Logger.Errorf("scheduler: schedule %d: %v", due[i].ID, err)
			continue
		}
		created += n
	}
	return created
}

func (e *Evaluator) runOne(ctx context.Context, s *models.ScheduleDefinition, now time.Time) (int, error) {
	ok, err := eligible(s, now)
	if err != nil {
		return 0, err
	}
	// интервальный стиль: прошло меньше N полных суток с прошлого
	// запуска — только переносим next_run_at, задач не создаём
	if !ok {
		next, err := nextAnchored(s, now)
		if err != nil {
			return 0, err
		}
		return 0, e.Schedules.SetNextRun(ctx, s.ID, next)
	}

	next, err := NextRun(s, now)
	if err != nil {
		return 0, err
	}

	targets, err := e.Schedules.TargetListingIDs(ctx, s.ID)
	if err != nil {
		return 0, err
	}

	created := 0
	sid := s.ID
	for _, listingID := range targets {
		job := &models.RefreshJob{
			ID:          uuid.NewString(),
			ListingID:   listingID,
			ScheduleID:  &sid,
			Status:      models.JobStatusPending,
			JobType:     models.JobTypeScheduled,
			ScheduledAt: now,
		}
		switch err := e.Jobs.CreateIfIdle(ctx, job); {
		case err == nil:
			created++
		case errors.Is(err, repo.ErrJobActive):
			// у листинга уже есть активная задача — дубль не плодим
		default:
			logs.Logger.Errorf("scheduler: enqueue listing %d: %v", listingID, err)
		}
	}

	return created, e.Schedules.MarkRun(ctx, s.ID, now, next)
}

// eligible — готово ли расписание породить задачи прямо сейчас.
// Для маски дней недели ListDue уже отфильтровал по next_run_at; для
// интервала дополнительно требуем N полных суток с прошлого запуска.
func eligible(s *models.ScheduleDefinition, now time.Time) (bool, error) {
	mask, err := s.WeekdayMask()
	if err != nil {
		return false, err
	}
	if len(mask) > 0 || s.FrequencyDays <= 1 {
		return true, nil
	}
	if s.LastRunAt == nil {
		return true, nil
	}
	return int(now.Sub(s.LastRunAt.UTC())/(24*time.Hour)) >= s.FrequencyDays, nil
}

// nextAnchored — следующий запуск интервального расписания от точки
// прошлого запуска, чтобы период не дрейфовал.
func nextAnchored(s *models.ScheduleDefinition, now time.Time) (time.Time, error) {
	if s.LastRunAt == nil {
		return NextRun(s, now)
	}
	tod, err := time.Parse("15:04", s.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	freq := s.FrequencyDays
	if freq < 1 {
		freq = 1
	}
	day := s.LastRunAt.UTC().AddDate(0, 0, freq)
	t := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, time.UTC)
	for !t.After(now) {
		t = t.AddDate(0, 0, freq)
	}
	return t, nil
}

// NextRun — чистая функция следующего запуска, строго в будущем
// относительно now. Всё в UTC.
func NextRun(s *models.ScheduleDefinition, now time.Time) (time.Time, error) {
	tod, err := time.Parse("15:04", s.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	now = now.UTC()
	at := func(day time.Time) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, time.UTC)
	}

	mask, err := s.WeekdayMask()
	if err != nil {
		return time.Time{}, err
	}
	if len(mask) > 0 {
		// ближайший разрешённый день; сегодня подходит, только если
		// время ещё не прошло
		allowed := make(map[time.Weekday]bool, len(mask))
		for _, d := range mask {
			allowed[d] = true
		}
		for add := 0; add <= 7; add++ {
			day := now.AddDate(0, 0, add)
			if !allowed[day.Weekday()] {
				continue
			}
			if t := at(day); t.After(now) {
				return t, nil
			}
		}
		// маска непустая — в пределах недели день найдётся всегда
	}

	freq := s.FrequencyDays
	if freq < 1 {
		freq = 1
	}
	t := at(now)
	for !t.After(now) {
		t = t.AddDate(0, 0, freq)
	}
	return t, nil
}
