package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cpi_pulse/models"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobTerminal       = errors.New("job already finished")
	ErrRefreshInProgress = errors.New("refresh already in progress")
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Store is the persistence the tracker needs. Both storage backends
// satisfy it.
type Store interface {
	CreateJob(ctx context.Context, job *models.RefreshJob) error
	GetJob(ctx context.Context, id string) (*models.RefreshJob, error)
	UpdateJob(ctx context.Context, id string, u models.JobUpdate) error
	ActiveJob(ctx context.Context) (*models.RefreshJob, error)
	ListStaleJobs(ctx context.Context, before time.Time) ([]models.RefreshJob, error)
}

// Tracker owns the RefreshJob state machine:
// PENDING -> RUNNING -> SUCCESS | ERROR. Terminal jobs are never modified.
type Tracker struct {
	store   Store
	lock    Lock
	lockTTL time.Duration

	mu  sync.Mutex
	now func() time.Time
}

func NewTracker(store Store, lock Lock, lockTTL time.Duration) *Tracker {
	if lock == nil {
		lock = NewLocalLock()
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Hour
	}
	return &Tracker{
		store:   store,
		lock:    lock,
		lockTTL: lockTTL,
		now:     time.Now,
	}
}

// Create registers a PENDING job for source. It fails with
// ErrRefreshInProgress while another job is active or the lock is held.
func (t *Tracker) Create(ctx context.Context, source string) (*models.RefreshJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active, err := t.store.ActiveJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("check active job: %w", err)
	}
	if active != nil {
		return nil, fmt.Errorf("%w: job %s is %s", ErrRefreshInProgress, active.ID, active.Status)
	}

	id := uuid.New().String()
	ok, err := t.lock.Acquire(ctx, id, t.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRefreshInProgress
	}

	job := &models.RefreshJob{
		ID:        id,
		Status:    models.JobStatusPending,
		Source:    source,
		StartedAt: t.now(),
	}
	if err := t.store.CreateJob(ctx, job); err != nil {
		t.release(id)
		return nil, fmt.Errorf("create job: %w", err)
	}

	log.Printf("[job %s] created for %s", ShortID(id), source)
	return job, nil
}

func (t *Tracker) Get(ctx context.Context, id string) (*models.RefreshJob, error) {
	job, err := t.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Active returns the PENDING or RUNNING job, or nil.
func (t *Tracker) Active(ctx context.Context) (*models.RefreshJob, error) {
	return t.store.ActiveJob(ctx)
}

func (t *Tracker) Start(ctx context.Context, id string) error {
	return t.mutate(ctx, id, func(job *models.RefreshJob) (models.JobUpdate, error) {
		if job.Status != models.JobStatusPending {
			return models.JobUpdate{}, fmt.Errorf("%w: start from %s", ErrInvalidTransition, job.Status)
		}
		status := models.JobStatusRunning
		return models.JobUpdate{Status: &status}, nil
	})
}

func (t *Tracker) SetTotal(ctx context.Context, id string, total int) error {
	return t.mutate(ctx, id, func(job *models.RefreshJob) (models.JobUpdate, error) {
		return models.JobUpdate{TotalRows: &total}, nil
	})
}

// Progress records processed rows and the ETA. Progress and processed rows
// never move backwards; lower values are clamped to the stored ones.
func (t *Tracker) Progress(ctx context.Context, id string, progress, processed, etaSeconds int) error {
	return t.mutate(ctx, id, func(job *models.RefreshJob) (models.JobUpdate, error) {
		if job.Status != models.JobStatusRunning {
			return models.JobUpdate{}, fmt.Errorf("%w: progress while %s", ErrInvalidTransition, job.Status)
		}
		progress = min(max(progress, job.Progress), 100)
		processed = max(processed, job.ProcessedRows)
		etaSeconds = max(etaSeconds, 0)
		return models.JobUpdate{
			Progress:      &progress,
			ProcessedRows: &processed,
			ETASeconds:    &etaSeconds,
		}, nil
	})
}

func (t *Tracker) Complete(ctx context.Context, id string) error {
	err := t.mutate(ctx, id, func(job *models.RefreshJob) (models.JobUpdate, error) {
		if job.Status != models.JobStatusRunning {
			return models.JobUpdate{}, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, job.Status)
		}
		status := models.JobStatusSuccess
		progress, eta := 100, 0
		now := t.now()
		return models.JobUpdate{
			Status:        &status,
			Progress:      &progress,
			ProcessedRows: &job.TotalRows,
			ETASeconds:    &eta,
			CompletedAt:   &now,
		}, nil
	})
	if err == nil {
		t.release(id)
	}
	return err
}

// Fail moves a PENDING or RUNNING job to ERROR with message.
func (t *Tracker) Fail(ctx context.Context, id string, message string) error {
	err := t.mutate(ctx, id, func(job *models.RefreshJob) (models.JobUpdate, error) {
		status := models.JobStatusError
		now := t.now()
		return models.JobUpdate{
			Status:       &status,
			ErrorMessage: &message,
			CompletedAt:  &now,
		}, nil
	})
	if err == nil {
		t.release(id)
	}
	return err
}

// FailStale fails every non-terminal job started before the cutoff and
// returns how many were failed.
func (t *Tracker) FailStale(ctx context.Context, before time.Time, message string) (int, error) {
	stale, err := t.store.ListStaleJobs(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	failed := 0
	for _, job := range stale {
		if err := t.Fail(ctx, job.ID, message); err != nil {
			if errors.Is(err, ErrJobTerminal) {
				continue
			}
			log.Printf("[job %s] failed to mark stale: %v", ShortID(job.ID), err)
			continue
		}
		log.Printf("[job %s] %s (started %s)", ShortID(job.ID), message, job.StartedAt.Format(time.RFC3339))
		failed++
	}
	return failed, nil
}

// FailOrphaned fails non-terminal jobs left behind by a dead process. The
// job holding the lock is still owned by a live instance and is skipped.
func (t *Tracker) FailOrphaned(ctx context.Context, message string) (int, error) {
	owner, err := t.lock.Owner(ctx)
	if err != nil {
		return 0, err
	}
	active, err := t.store.ListStaleJobs(ctx, t.now())
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}

	failed := 0
	for _, job := range active {
		if job.ID == owner {
			log.Printf("[job %s] still held by a live instance, leaving it", ShortID(job.ID))
			continue
		}
		if err := t.Fail(ctx, job.ID, message); err != nil {
			if errors.Is(err, ErrJobTerminal) {
				continue
			}
			log.Printf("[job %s] failed to mark orphaned: %v", ShortID(job.ID), err)
			continue
		}
		log.Printf("[job %s] %s (started %s)", ShortID(job.ID), message, job.StartedAt.Format(time.RFC3339))
		failed++
	}
	return failed, nil
}

func (t *Tracker) mutate(ctx context.Context, id string, fn func(*models.RefreshJob) (models.JobUpdate, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, err := t.store.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobTerminal, ShortID(id), job.Status)
	}

	update, err := fn(job)
	if err != nil {
		return err
	}
	if update.Empty() {
		return nil
	}
	if err := t.store.UpdateJob(ctx, id, update); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (t *Tracker) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.lock.Release(ctx, id); err != nil {
		log.Printf("[job %s] release lock: %v", ShortID(id), err)
	}
}

// ShortID is the 8-char prefix used in log lines.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
