package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relist/internal/models"
)

type fakeQueue struct {
	mu        sync.Mutex
	pending   []*models.RefreshJob
	completed []string
	failed    map[string]string
}

func newFakeQueue(jobs ...*models.RefreshJob) *fakeQueue {
	return &fakeQueue{pending: jobs, failed: map[string]string{}}
}

func (f *fakeQueue) ClaimNext(_ context.Context, _ time.Time) (*models.RefreshJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	j := f.pending[0]
	f.pending = f.pending[1:]
	j.Status = models.JobStatusRunning
	return j, nil
}

func (f *fakeQueue) Complete(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeQueue) Fail(_ context.Context, id, errMsg string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = errMsg
	return nil
}

type fakeSyncer struct {
	mu      sync.Mutex
	synced  []uint
	failIDs map[uint]error

	inFlight, maxInFlight int
}

func (f *fakeSyncer) Sync(_ context.Context, listingID uint) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	f.synced = append(f.synced, listingID)
	if err := f.failIDs[listingID]; err != nil {
		return err
	}
	return nil
}

func job(id string, listingID uint) *models.RefreshJob {
	return &models.RefreshJob{
		ID:          id,
		ListingID:   listingID,
		Status:      models.JobStatusPending,
		JobType:     models.JobTypeScheduled,
		ScheduledAt: time.Now().UTC(),
	}
}

func TestDrainCompletesJobs(t *testing.T) {
	q := newFakeQueue(job("j1", 1), job("j2", 2))
	s := &fakeSyncer{failIDs: map[uint]error{}}

	w := New(q, s, 2)
	w.Drain(context.Background())

	assert.ElementsMatch(t, []string{"j1", "j2"}, q.completed)
	assert.Empty(t, q.failed)
	assert.ElementsMatch(t, []uint{1, 2}, s.synced)
}

func TestDrainFailsJobOnSyncError(t *testing.T) {
	q := newFakeQueue(job("j1", 1), job("j2", 2))
	s := &fakeSyncer{failIDs: map[uint]error{2: errors.New("portal down")}}

	w := New(q, s, 2)
	w.Drain(context.Background())

	assert.Equal(t, []string{"j1"}, q.completed)
	require.Contains(t, q.failed, "j2")
	assert.Equal(t, "portal down", q.failed["j2"])
}

func TestDrainHonorsConcurrencyLimit(t *testing.T) {
	jobs := make([]*models.RefreshJob, 0, 8)
	for i := 0; i < 8; i++ {
		jobs = append(jobs, job(string(rune('a'+i)), uint(i+1)))
	}
	q := newFakeQueue(jobs...)
	s := &fakeSyncer{failIDs: map[uint]error{}}

	w := New(q, s, 2)
	w.Drain(context.Background())

	assert.Len(t, q.completed, 8)
	assert.LessOrEqual(t, s.maxInFlight, 2)
}

func TestDrainStopsOnEmptyQueue(t *testing.T) {
	q := newFakeQueue()
	s := &fakeSyncer{failIDs: map[uint]error{}}

	done := make(chan struct{})
	go func() {
		New(q, s, 1).Drain(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return on empty queue")
	}
}

// blockingSyncer держит первый вызов до сигнала release.
type blockingSyncer struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *blockingSyncer) Sync(context.Context, uint) error {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return nil
}

func TestDrainClaimsOnlyWithFreeSlot(t *testing.T) {
	q := newFakeQueue(job("j1", 1), job("j2", 2))
	s := &blockingSyncer{started: make(chan struct{}), release: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		New(q, s, 1).Drain(context.Background())
		close(done)
	}()

	<-s.started
	// пул занят: вторая задача не захвачена и остаётся pending
	q.mu.Lock()
	left := len(q.pending)
	q.mu.Unlock()
	assert.Equal(t, 1, left)

	close(s.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not finish after slot freed")
	}
	assert.ElementsMatch(t, []string{"j1", "j2"}, q.completed)
}
