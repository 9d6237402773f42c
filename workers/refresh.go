package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cpi_pulse/ingest"
	"cpi_pulse/jobs"
	"cpi_pulse/metrics"
	"cpi_pulse/models"
)

var ErrQueueFull = errors.New("refresh queue is full")

const (
	msgTimedOut    = "job timed out"
	msgInterrupted = "interrupted by restart"
)

// Runner executes one ingestion for a PENDING job.
type Runner interface {
	Run(ctx context.Context, jobID string, src ingest.Source) (*ingest.Result, error)
}

type Tracker interface {
	Create(ctx context.Context, source string) (*models.RefreshJob, error)
	Fail(ctx context.Context, id string, message string) error
	FailStale(ctx context.Context, before time.Time, message string) (int, error)
	FailOrphaned(ctx context.Context, message string) (int, error)
}

type task struct {
	jobID  string
	source ingest.Source
}

// RefreshWorker runs queued refreshes one at a time and fails jobs that
// outlive the job timeout.
type RefreshWorker struct {
	runner  Runner
	tracker Tracker
	queue   chan task
	timeout time.Duration
	reapCh  chan struct{}
	now     func() time.Time
}

func NewRefreshWorker(runner Runner, tracker Tracker, queueSize int, timeout time.Duration) *RefreshWorker {
	if queueSize < 1 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	return &RefreshWorker{
		runner:  runner,
		tracker: tracker,
		queue:   make(chan task, queueSize),
		timeout: timeout,
		reapCh:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Submit creates a job for src and queues it. It does not block: a full
// queue fails the new job with ErrQueueFull.
func (w *RefreshWorker) Submit(ctx context.Context, src ingest.Source) (*models.RefreshJob, error) {
	job, err := w.tracker.Create(ctx, src.Name())
	if err != nil {
		return nil, err
	}

	select {
	case w.queue <- task{jobID: job.ID, source: src}:
		metrics.SetQueueDepth(len(w.queue))
		log.Printf("[job %s] queued", jobs.ShortID(job.ID))
		return job, nil
	default:
		if err := w.tracker.Fail(ctx, job.ID, ErrQueueFull.Error()); err != nil {
			log.Printf("[job %s] mark queue-full failure: %v", jobs.ShortID(job.ID), err)
		}
		return nil, ErrQueueFull
	}
}

// RefreshNow runs src synchronously, bypassing the queue.
func (w *RefreshWorker) RefreshNow(ctx context.Context, src ingest.Source) (*ingest.Result, error) {
	job, err := w.tracker.Create(ctx, src.Name())
	if err != nil {
		return nil, err
	}
	return w.execute(ctx, task{jobID: job.ID, source: src})
}

// RecoverInterrupted fails jobs a previous process left PENDING or RUNNING.
// A job whose lock is still held belongs to another live instance and is
// left to the reaper. Call it before Run.
func (w *RefreshWorker) RecoverInterrupted(ctx context.Context) (int, error) {
	n, err := w.tracker.FailOrphaned(ctx, msgInterrupted)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if n > 0 {
		log.Printf("Refresh worker: failed %d interrupted jobs", n)
	}
	return n, nil
}

// TriggerReap runs the stale-job check on the next loop iteration.
func (w *RefreshWorker) TriggerReap() {
	select {
	case w.reapCh <- struct{}{}:
	default:
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *RefreshWorker) Run(ctx context.Context, reapInterval time.Duration) {
	if reapInterval <= 0 {
		reapInterval = time.Minute
	}
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Refresh worker stopping")
			return
		case t := <-w.queue:
			metrics.SetQueueDepth(len(w.queue))
			if _, err := w.execute(ctx, t); err != nil {
				log.Printf("[job %s] refresh error: %v", jobs.ShortID(t.jobID), err)
			}
		case <-ticker.C:
			w.reap(ctx)
		case <-w.reapCh:
			w.reap(ctx)
		}
	}
}

func (w *RefreshWorker) execute(ctx context.Context, t task) (*ingest.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return w.runner.Run(ctx, t.jobID, t.source)
}

func (w *RefreshWorker) reap(ctx context.Context) {
	n, err := w.tracker.FailStale(ctx, w.now().Add(-w.timeout), msgTimedOut)
	if err != nil {
		log.Printf("Refresh worker: reap error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Refresh worker: timed out %d jobs", n)
	}
}

var _ Tracker = (*jobs.Tracker)(nil)
