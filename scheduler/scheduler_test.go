package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cpi_pulse/config"
	"cpi_pulse/ingest"
	"cpi_pulse/jobs"
	"cpi_pulse/models"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, src ingest.Source) (*models.RefreshJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.RefreshJob{ID: "job-1", Source: src.Name()}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestScheduler_Interval(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(config.SchedulerConfig{Interval: 10 * time.Millisecond}, sub, ingest.NewURLSource("http://example.test/cpi.xlsx", nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.Eventually(t, func() bool { return sub.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_InvalidCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "every tuesday"}, &fakeSubmitter{}, ingest.NewURLSource("http://example.test", nil))
	assert.ErrorContains(t, s.Start(context.Background()), "invalid cron expression")
}

func TestScheduler_NoSource(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(config.SchedulerConfig{Interval: time.Millisecond}, sub, nil)
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sub.count())
}

func TestScheduler_TriggerNowToleratesBusy(t *testing.T) {
	sub := &fakeSubmitter{err: jobs.ErrRefreshInProgress}
	s := New(config.SchedulerConfig{}, sub, ingest.NewURLSource("http://example.test", nil))
	s.TriggerNow(context.Background())
	assert.Equal(t, 1, sub.count())
}
