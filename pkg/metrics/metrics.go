// Package metrics exposes Prometheus instrumentation for the scheduler
// and worker tick loops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SchedulerTicks counts scheduler loop iterations.
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedrefresh_scheduler_ticks_total",
		Help: "Number of scheduler tick loop iterations.",
	})

	// SchedulerPromotions counts jobs transitioned complete->pending by
	// the scheduler, per tick.
	SchedulerPromotions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedrefresh_scheduler_promotions_per_tick",
		Help:    "Number of jobs promoted from complete to pending per scheduler tick.",
		Buckets: prometheus.LinearBuckets(0, 10, 10),
	})

	// WorkerTicks counts worker loop iterations.
	WorkerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedrefresh_worker_ticks_total",
		Help: "Number of worker tick loop iterations.",
	})

	// WorkerClaimedJobs counts jobs a worker successfully claimed
	// (pending->in_progress) per tick.
	WorkerClaimedJobs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedrefresh_worker_claimed_jobs_per_tick",
		Help:    "Number of jobs claimed per worker tick.",
		Buckets: prometheus.LinearBuckets(0, 5, 10),
	})

	// JobOutcomes counts per-job handler results by outcome label:
	// completed, retried, failed, lost_claim.
	JobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedrefresh_job_outcomes_total",
		Help: "Per-job handler outcomes.",
	}, []string{"outcome"})

	// FetchErrors counts fetcher failures.
	FetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedrefresh_fetch_errors_total",
		Help: "Number of feed fetch failures.",
	})

	// ParseErrors counts parser failures.
	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedrefresh_parse_errors_total",
		Help: "Number of feed parse failures.",
	})

	// PostsIngested counts feed_post rows successfully inserted (not
	// including posts dropped on guid conflict).
	PostsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedrefresh_posts_ingested_total",
		Help: "Number of feed_post rows inserted across all refreshes.",
	})
)
