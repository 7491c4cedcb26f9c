package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relist/internal/models"
	"relist/internal/repo"
)

type fakeSchedules struct {
	due      []models.ScheduleDefinition
	targets  map[uint][]uint
	markRuns map[uint]time.Time
	nextRuns map[uint]time.Time
}

func newFakeSchedules() *fakeSchedules {
	return &fakeSchedules{
		targets:  map[uint][]uint{},
		markRuns: map[uint]time.Time{},
		nextRuns: map[uint]time.Time{},
	}
}

func (f *fakeSchedules) ListDue(_ context.Context, _ time.Time) ([]models.ScheduleDefinition, error) {
	return f.due, nil
}

func (f *fakeSchedules) TargetListingIDs(_ context.Context, id uint) ([]uint, error) {
	return f.targets[id], nil
}

func (f *fakeSchedules) MarkRun(_ context.Context, id uint, lastRun, nextRun time.Time) error {
	f.markRuns[id] = lastRun
	f.nextRuns[id] = nextRun
	return nil
}

func (f *fakeSchedules) SetNextRun(_ context.Context, id uint, nextRun time.Time) error {
	f.nextRuns[id] = nextRun
	return nil
}

type fakeJobs struct {
	created []models.RefreshJob
	active  map[uint]bool // listing id → есть активная задача
}

func (f *fakeJobs) CreateIfIdle(_ context.Context, job *models.RefreshJob) error {
	if f.active[job.ListingID] {
		return repo.ErrJobActive
	}
	f.created = append(f.created, *job)
	return nil
}

func weekdays(t *testing.T, days ...int) []byte {
	t.Helper()
	raw, err := json.Marshal(days)
	require.NoError(t, err)
	return raw
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestNextRunDaily(t *testing.T) {
	s := &models.ScheduleDefinition{TimeOfDay: "09:30", FrequencyDays: 1}

	// до времени запуска — сегодня
	next, err := NextRun(s, at(t, "2026-03-02T08:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, at(t, "2026-03-02T09:30:00Z"), next)

	// после — завтра
	next, err = NextRun(s, at(t, "2026-03-02T10:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, at(t, "2026-03-03T09:30:00Z"), next)
}

func TestNextRunAlwaysFuture(t *testing.T) {
	// инвариант: следующий запуск строго в будущем для любого стиля
	cases := []*models.ScheduleDefinition{
		{TimeOfDay: "00:00", FrequencyDays: 1},
		{TimeOfDay: "23:59", FrequencyDays: 3},
		{TimeOfDay: "12:00", Weekdays: weekdays(t, 1, 3, 5)},
		{TimeOfDay: "12:00", Weekdays: weekdays(t, 0)},
	}
	now := at(t, "2026-03-04T12:00:00Z") // среда, ровно полдень
	for _, s := range cases {
		next, err := NextRun(s, now)
		require.NoError(t, err)
		assert.True(t, next.After(now), "next=%v must be after now=%v", next, now)
	}
}

func TestNextRunWeekdayMask(t *testing.T) {
	// пн(1) и пт(5), 10:00
	s := &models.ScheduleDefinition{TimeOfDay: "10:00", Weekdays: weekdays(t, 1, 5)}

	// среда → ближайшая пятница
	next, err := NextRun(s, at(t, "2026-03-04T12:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, at(t, "2026-03-06T10:00:00Z"), next)

	// пятница после 10:00 → понедельник
	next, err = NextRun(s, at(t, "2026-03-06T11:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, at(t, "2026-03-09T10:00:00Z"), next)

	// понедельник до 10:00 → тот же день
	next, err = NextRun(s, at(t, "2026-03-09T08:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, at(t, "2026-03-09T10:00:00Z"), next)
}

func TestRunDueCreatesJobsAndAdvances(t *testing.T) {
	schedules := newFakeSchedules()
	jobs := &fakeJobs{active: map[uint]bool{}}
	now := at(t, "2026-03-02T09:30:00Z")

	schedules.due = []models.ScheduleDefinition{{
		ID:            7,
		TimeOfDay:     "09:30",
		FrequencyDays: 1,
		Active:        true,
		NextRunAt:     now,
	}}
	schedules.targets[7] = []uint{10, 11, 12}

	e := NewEvaluator(schedules, jobs)
	e.Now = func() time.Time { return now }

	created := e.RunDue(context.Background())
	assert.Equal(t, 3, created)
	require.Len(t, jobs.created, 3)
	for _, j := range jobs.created {
		assert.Equal(t, models.JobStatusPending, j.Status)
		assert.Equal(t, models.JobTypeScheduled, j.JobType)
		require.NotNil(t, j.ScheduleID)
		assert.Equal(t, uint(7), *j.ScheduleID)
	}

	// после обработки next_run_at строго в будущем
	assert.Equal(t, at(t, "2026-03-03T09:30:00Z"), schedules.nextRuns[7])
	assert.Equal(t, now, schedules.markRuns[7])
}

func TestRunDueSkipsListingsWithActiveJob(t *testing.T) {
	schedules := newFakeSchedules()
	jobs := &fakeJobs{active: map[uint]bool{11: true}}
	now := at(t, "2026-03-02T09:30:00Z")

	schedules.due = []models.ScheduleDefinition{{
		ID: 7, TimeOfDay: "09:30", FrequencyDays: 1, Active: true, NextRunAt: now,
	}}
	schedules.targets[7] = []uint{10, 11}

	e := NewEvaluator(schedules, jobs)
	e.Now = func() time.Time { return now }

	created := e.RunDue(context.Background())
	assert.Equal(t, 1, created)
	require.Len(t, jobs.created, 1)
	assert.Equal(t, uint(10), jobs.created[0].ListingID)
}

func TestRunDueIntervalGating(t *testing.T) {
	// раз в 3 дня, последний запуск был вчера: задач нет, только
	// перенос next_run_at
	schedules := newFakeSchedules()
	jobs := &fakeJobs{active: map[uint]bool{}}
	now := at(t, "2026-03-05T09:00:00Z")
	last := at(t, "2026-03-04T09:00:00Z")

	schedules.due = []models.ScheduleDefinition{{
		ID:            3,
		TimeOfDay:     "09:00",
		FrequencyDays: 3,
		Active:        true,
		NextRunAt:     now,
		LastRunAt:     &last,
	}}
	schedules.targets[3] = []uint{10}

	e := NewEvaluator(schedules, jobs)
	e.Now = func() time.Time { return now }

	created := e.RunDue(context.Background())
	assert.Zero(t, created)
	assert.Empty(t, jobs.created)
	// якорь — прошлый запуск, периоды не дрейфуют
	assert.Equal(t, at(t, "2026-03-07T09:00:00Z"), schedules.nextRuns[3])
	assert.Empty(t, schedules.markRuns)
}

func TestRunDueIntervalElapsed(t *testing.T) {
	schedules := newFakeSchedules()
	jobs := &fakeJobs{active: map[uint]bool{}}
	now := at(t, "2026-03-07T09:00:00Z")
	last := at(t, "2026-03-04T09:00:00Z")

	schedules.due = []models.ScheduleDefinition{{
		ID:            3,
		TimeOfDay:     "09:00",
		FrequencyDays: 3,
		Active:        true,
		NextRunAt:     now,
		LastRunAt:     &last,
	}}
	schedules.targets[3] = []uint{10}

	e := NewEvaluator(schedules, jobs)
	e.Now = func() time.Time { return now }

	created := e.RunDue(context.Background())
	assert.Equal(t, 1, created)
	assert.Equal(t, at(t, "2026-03-10T09:00:00Z"), schedules.nextRuns[3])
}

func TestRunDueCorruptedMaskIsError(t *testing.T) {
	schedules := newFakeSchedules()
	jobs := &fakeJobs{active: map[uint]bool{}}
	now := at(t, "2026-03-02T09:30:00Z")

	schedules.due = []models.ScheduleDefinition{{
		ID:        9,
		TimeOfDay: "09:30",
		Weekdays:  []byte(`{"broken"`),
		Active:    true,
		NextRunAt: now,
	}}
	schedules.targets[9] = []uint{10}

	e := NewEvaluator(schedules, jobs)
	e.Now = func() time.Time { return now }

	// битая маска — ошибка расписания, а не тихий откат к интервалу
	created := e.RunDue(context.Background())
	assert.Zero(t, created)
	assert.Empty(t, jobs.created)
	assert.Empty(t, schedules.nextRuns)
}
