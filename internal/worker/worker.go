// Package worker разгребает очередь задач обновления: забирает pending
// задачи по одной (конкурентно-безопасный claim) и гонит их через
// синхронизатор с ограничением параллелизма.
package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"relist/internal/logs"
	"relist/internal/models"
)

// Jobs — очередь задач со стороны воркера.
type Jobs interface {
	ClaimNext(ctx context.Context, now time.Time) (*models.RefreshJob, error)
	Complete(ctx context.Context, id string, at time.Time) error
	Fail(ctx context.Context, id, errMsg string, at time.Time) error
}

// Syncer выполняет собственно синхронизацию листинга.
type Syncer interface {
	Sync(ctx context.Context, listingID uint) error
}

type Worker struct {
	Jobs    Jobs
	Sync    Syncer
	Now     func() time.Time
	Timeout time.Duration // на одну задачу

	sem *semaphore.Weighted
}

func New(jobs Jobs, sync Syncer, concurrency int64) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		Jobs:    jobs,
		Sync:    sync,
		Now:     time.Now,
		Timeout: 5 * time.Minute,
		sem:     semaphore.NewWeighted(concurrency),
	}
}

// Drain выгребает очередь до пустоты. Каждая задача идёт в своей
// горутине под семафором; возврат — после завершения всех взятых.
// Слот берётся до claim'а: пока пул занят, задача остаётся pending, а
// не висит в running без исполнения.
func (w *Worker) Drain(ctx context.Context) {
	var wg sync.WaitGroup
	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			break
		}
		job, err := w.Jobs.ClaimNext(ctx, w.Now().UTC())
		if err != nil || job == nil {
			w.sem.Release(1)
			if err != nil {
				logs.Logger.Errorf("worker: claim: %v", err)
			}
			break
		}
		wg.Add(1)
		go func(j *models.RefreshJob) {
			defer wg.Done()
			defer w.sem.Release(1)
			w.run(ctx, j)
		}(job)
	}
	wg.Wait()
}

func (w *Worker) run(ctx context.Context, job *models.RefreshJob) {
	jctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	logs.Logger.Infof("worker: job %s listing=%d type=%s", job.ID, job.ListingID, job.JobType)
	w.finish(job, w.Sync.Sync(jctx, job.ListingID))
}

func (w *Worker) finish(job *models.RefreshJob, err error) {
	// терминальный статус пишем без контекста задачи: он мог истечь,
	// а задача не должна застрять в running
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := w.Now().UTC()
	if err == nil {
		if e := w.Jobs.Complete(ctx, job.ID, now); e != nil {
			logs.Logger.Errorf("worker: complete job %s: %v", job.ID, e)
		}
		return
	}
	logs.Logger.Warnf("worker: job %s failed: %v", job.ID, err)
	if e := w.Jobs.Fail(ctx, job.ID, err.Error(), now); e != nil {
		logs.Logger.Errorf("worker: fail job %s: %v", job.ID, e)
	}
}
