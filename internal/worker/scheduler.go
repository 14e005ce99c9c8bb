// Package worker runs the background loops: outbox dispatch, DLQ
// monitoring, coupon queue drain, statistics fold, cache warming, and order
// expiry. One scheduler owns every loop so shutdown is a single ctx cancel.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is one periodic loop. Run errors are logged; the loop keeps ticking.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives a fixed set of jobs on their own tickers.
type Scheduler struct {
	jobs []Job
	wg   sync.WaitGroup
}

// NewScheduler creates a Scheduler for the given jobs.
func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Start launches every job loop. Each job runs once immediately, then on its
// interval, until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	log.Info().Int("jobs", len(s.jobs)).Msg("background workers started")
}

// Wait blocks until every job loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	run := func() {
		if err := job.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("worker", job.Name).Msg("worker run failed")
		}
	}

	run()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("worker", job.Name).Msg("worker stopped")
			return
		case <-ticker.C:
			run()
		}
	}
}
