package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"cpi_pulse/config"
	"cpi_pulse/ingest"
	"cpi_pulse/jobs"
	"cpi_pulse/models"
)

// Submitter queues a refresh.
type Submitter interface {
	Submit(ctx context.Context, src ingest.Source) (*models.RefreshJob, error)
}

type Scheduler struct {
	cfg       config.SchedulerConfig
	submitter Submitter
	source    ingest.Source
	cron      *cron.Cron
	ticker    *time.Ticker
	stopCh    chan struct{}
}

func New(cfg config.SchedulerConfig, submitter Submitter, source ingest.Source) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		submitter: submitter,
		source:    source,
		cron:      cron.New(),
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.source == nil {
		log.Println("No source URL configured, scheduled refreshes disabled")
		return nil
	}

	if s.cfg.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() {
			s.TriggerNow(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.TriggerNow(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, refreshes run only on request")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// TriggerNow submits a refresh of the configured source. A refresh that is
// already running is not an error here.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	job, err := s.submitter.Submit(ctx, s.source)
	switch {
	case errors.Is(err, jobs.ErrRefreshInProgress):
		log.Println("Scheduled refresh skipped: refresh already in progress")
	case err != nil:
		log.Printf("Scheduled refresh error: %v", err)
	default:
		log.Printf("[job %s] scheduled refresh submitted", jobs.ShortID(job.ID))
	}
}
