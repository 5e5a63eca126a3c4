// Package scheduler runs the tick loop that promotes stale complete jobs
// back to pending so the worker picks them up again.
package scheduler

import (
	"context"
	"time"

	"github.com/adewale/feedrefresh/pkg/job"
	"github.com/adewale/feedrefresh/pkg/logging"
	"github.com/adewale/feedrefresh/pkg/metrics"
	"github.com/adewale/feedrefresh/pkg/timeprovider"
)

// Scheduler promotes jobs that have sat in complete longer than the
// configured refresh frequency, in batches, on a fixed interval.
type Scheduler struct {
	jobs      job.Repository
	logger    logging.Logger
	clock     timeprovider.TimeProvider
	interval  time.Duration
	batchSize int
	// frequency is the minimum time a job must stay complete before it
	// is eligible for re-promotion to pending.
	frequency time.Duration
}

// New creates a Scheduler.
func New(jobs job.Repository, logger logging.Logger, clock timeprovider.TimeProvider, interval time.Duration, batchSize int, frequency time.Duration) *Scheduler {
	return &Scheduler{
		jobs:      jobs,
		logger:    logger,
		clock:     clock,
		interval:  interval,
		batchSize: batchSize,
		frequency: frequency,
	}
}

// Run blocks, ticking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs one scheduling pass. Errors are logged and swallowed so a
// single bad tick never kills the loop.
func (s *Scheduler) tick(ctx context.Context) {
	metrics.SchedulerTicks.Inc()

	staleBefore := s.clock.Now().Add(-s.frequency)
	jobsToSchedule, err := s.jobs.ListStaleComplete(ctx, staleBefore, s.batchSize)
	if err != nil {
		s.logger.Error("failed to list stale complete jobs: %v", err)
		return
	}

	if len(jobsToSchedule) == 0 {
		s.logger.Debug("no jobs to schedule")
		return
	}

	ids := make([]int64, len(jobsToSchedule))
	for i, j := range jobsToSchedule {
		ids[i] = j.ID
	}

	scheduled, err := s.jobs.TransitStateBatch(ctx, ids, job.StateComplete, job.StatePending)
	if err != nil {
		s.logger.Error("failed to schedule jobs: %v", err)
		return
	}

	metrics.SchedulerPromotions.Observe(float64(len(scheduled)))

	if len(scheduled) != len(jobsToSchedule) {
		s.logger.Warn("some jobs were not scheduled: wanted %d, scheduled %d", len(jobsToSchedule), len(scheduled))
	} else {
		s.logger.Info("scheduled %d jobs", len(scheduled))
	}
}
