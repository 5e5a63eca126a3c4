// Package worker runs the tick loop that claims due pending jobs and
// drives each through fetch, parse, persist, and state transition.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/adewale/feedrefresh/pkg/atomic"
	"github.com/adewale/feedrefresh/pkg/feed"
	"github.com/adewale/feedrefresh/pkg/feedparser"
	"github.com/adewale/feedrefresh/pkg/fetcher"
	"github.com/adewale/feedrefresh/pkg/job"
	"github.com/adewale/feedrefresh/pkg/logging"
	"github.com/adewale/feedrefresh/pkg/metrics"
	"github.com/adewale/feedrefresh/pkg/post"
	"github.com/adewale/feedrefresh/pkg/timeprovider"
)

// Worker claims due pending jobs each tick and processes them with
// bounded per-job concurrency.
type Worker struct {
	jobs    job.Repository
	feeds   feed.Repository
	posts   post.Repository
	runner  atomic.Runner
	fetcher *fetcher.Fetcher
	logger  logging.Logger
	clock   timeprovider.TimeProvider

	interval     time.Duration
	batchSize    int
	fetchTimeout time.Duration
	retryDelays  []time.Duration
}

// New creates a Worker. runner scopes handleSuccess's completion, post
// insert, and feed metadata update into one transaction.
func New(
	jobs job.Repository,
	feeds feed.Repository,
	posts post.Repository,
	runner atomic.Runner,
	f *fetcher.Fetcher,
	logger logging.Logger,
	clock timeprovider.TimeProvider,
	interval time.Duration,
	batchSize int,
	fetchTimeout time.Duration,
	retryDelays []time.Duration,
) *Worker {
	return &Worker{
		jobs:         jobs,
		feeds:        feeds,
		posts:        posts,
		runner:       runner,
		fetcher:      f,
		logger:       logger,
		clock:        clock,
		interval:     interval,
		batchSize:    batchSize,
		fetchTimeout: fetchTimeout,
		retryDelays:  retryDelays,
	}
}

// Run blocks, ticking until ctx is cancelled. In-flight tick handlers are
// allowed to finish before the loop exits.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick claims due jobs, fetches+processes them with bounded concurrency,
// and returns once every claimed job's handler has finished. A handler's
// failure is logged and isolated; it never aborts sibling handlers or the
// tick itself.
func (w *Worker) tick(ctx context.Context) {
	metrics.WorkerTicks.Inc()

	available, err := w.jobs.ListDueForExecution(ctx, w.clock.Now(), w.batchSize)
	if err != nil {
		w.logger.Error("failed to list due jobs: %v", err)
		return
	}
	if len(available) == 0 {
		w.logger.Debug("no jobs to process")
		return
	}

	ids := make([]int64, len(available))
	for i, j := range available {
		ids[i] = j.ID
	}

	claimed, err := w.jobs.TransitStateBatch(ctx, ids, job.StatePending, job.StateInProgress)
	if err != nil {
		w.logger.Error("failed to claim jobs: %v", err)
		return
	}
	metrics.WorkerClaimedJobs.Observe(float64(len(claimed)))
	if len(claimed) == 0 {
		w.logger.Warn("no jobs were claimed (lost race to another worker)")
		return
	}
	if len(claimed) != len(available) {
		w.logger.Debug("lost claim on %d jobs to another worker", len(available)-len(claimed))
	}

	w.logger.Info("processing %d claimed jobs", len(claimed))
	w.processClaimed(ctx, claimed)
}

// feedsByID looks up the feeds referenced by the claimed jobs.
func (w *Worker) feedsByID(ctx context.Context, jobs []*job.Job) (map[int64]*feed.Feed, error) {
	byID := make(map[int64]*feed.Feed, len(jobs))
	for _, j := range jobs {
		f, err := w.feeds.GetByID(ctx, j.FeedID)
		if err != nil {
			w.logger.Warn("skipping job %d: feed %d lookup failed: %v", j.ID, j.FeedID, err)
			continue
		}
		byID[j.FeedID] = f
	}
	return byID, nil
}

// processClaimed fetches content for every claimed job concurrently, then
// fans out a handler per job to persist the outcome. Per spec, a slow or
// failing feed never starves the batch: the fetcher enforces its own
// per-batch wall-clock timeout internally.
func (w *Worker) processClaimed(ctx context.Context, claimed []*job.Job) {
	feedsByID, _ := w.feedsByID(ctx, claimed)

	requests := make([]fetcher.Request, 0, len(claimed))
	requestJob := make(map[string]*job.Job, len(claimed))
	for _, j := range claimed {
		f, ok := feedsByID[j.FeedID]
		if !ok {
			continue
		}
		reqID := fetcher.NewRequestID()
		requestJob[reqID] = j
		requests = append(requests, fetcher.Request{
			RequestID:      reqID,
			URL:            f.URL,
			PublishedSince: f.PublishedAt,
		})
	}

	results := w.fetcher.FetchBatch(ctx, requests, w.fetchTimeout)

	var wg sync.WaitGroup
	for reqID, j := range requestJob {
		result := results[reqID]
		f := feedsByID[j.FeedID]
		wg.Add(1)
		go func(j *job.Job, f *feed.Feed, result fetcher.Result) {
			defer wg.Done()
			w.handleResult(ctx, j, f, result)
		}(j, f, result)
	}
	wg.Wait()
}

func (w *Worker) handleResult(ctx context.Context, j *job.Job, f *feed.Feed, result fetcher.Result) {
	if result.PermanentRedirect && result.FinalURL != "" && result.FinalURL != f.URL {
		if err := w.feeds.UpdateURL(ctx, f.ID, result.FinalURL); err != nil {
			w.logger.Warn("failed to migrate feed %d URL to %s: %v", f.ID, result.FinalURL, err)
		} else {
			w.logger.Info("feed %d URL migrated to %s after permanent redirect", f.ID, result.FinalURL)
		}
	}

	if result.Err != nil {
		var parseErr *feedparser.ParseError
		if errors.As(result.Err, &parseErr) {
			metrics.ParseErrors.Inc()
		} else {
			metrics.FetchErrors.Inc()
		}
		w.logger.Warn("feed content update failed for feed %d job %d: %v", j.FeedID, j.ID, result.Err)
		w.handleFailure(ctx, j, retryAfterOverride(result.Err))
		return
	}
	w.handleSuccess(ctx, j, f, result.Content)
}

// retryAfterOverride extracts a server-provided Retry-After delay from a
// fetch failure, capped at 5 minutes, or zero if none applies.
func retryAfterOverride(err error) time.Duration {
	var fetchErr *fetcher.FetchError
	if !errors.As(err, &fetchErr) || fetchErr.RetryAfter <= 0 {
		return 0
	}
	const cap = 5 * time.Minute
	if fetchErr.RetryAfter > cap {
		return cap
	}
	return fetchErr.RetryAfter
}

// handleSuccess completes the job, bulk-inserts any new posts, and updates
// the feed's watermark inside one transaction, matching the invariant that
// feed.published_at equals the newest ingested item's time (or is
// unchanged if nothing survived the watermark filter). A failure partway
// through rolls back the whole refresh rather than leaving the job
// complete with its posts lost.
func (w *Worker) handleSuccess(ctx context.Context, j *job.Job, f *feed.Feed, content *feedparser.FeedContentResult) {
	posts := make([]*post.Post, 0, len(content.Items))
	for _, item := range content.Items {
		posts = append(posts, &post.Post{
			FeedID:      j.FeedID,
			GUID:        item.GUID,
			Title:       item.Title,
			URL:         item.URL,
			Summary:     item.Summary,
			PublishedAt: item.PublishedAt,
		})
	}

	var inserted []*post.Post
	err := w.runner.Atomic(ctx, func(tx *sql.Tx) error {
		if _, err := w.jobs.CompleteJobTx(ctx, tx, j.ID); err != nil {
			return err
		}

		if len(posts) > 0 {
			ins, err := w.posts.CreateManyTx(ctx, tx, posts)
			if err != nil {
				return err
			}
			inserted = ins
		}

		if content.PublishedAt != nil {
			if err := w.feeds.UpdateContentTx(ctx, tx, j.FeedID, content.Title, *content.PublishedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		w.logger.Error("failed to complete refresh for feed %d job %d: %v", j.FeedID, j.ID, err)
		metrics.JobOutcomes.WithLabelValues("lost_claim").Inc()
		return
	}

	metrics.PostsIngested.Add(float64(len(inserted)))
	w.logger.Info("feed %d content updated: %d new posts", j.FeedID, len(inserted))
	metrics.JobOutcomes.WithLabelValues("completed").Inc()
}

// handleFailure applies the backoff schedule: a job whose retries index is
// still within retryDelays is rescheduled to pending at the corresponding
// delay, or at retryAfter when the origin server requested a longer wait
// via Retry-After; once exhausted the job moves to failed.
func (w *Worker) handleFailure(ctx context.Context, j *job.Job, retryAfter time.Duration) {
	if j.Retries >= len(w.retryDelays) {
		if _, err := w.jobs.FailJob(ctx, j.ID); err != nil {
			w.logger.Error("failed to mark job %d failed: %v", j.ID, err)
			return
		}
		w.logger.Info("job %d marked failed after %d retries", j.ID, j.Retries)
		metrics.JobOutcomes.WithLabelValues("failed").Inc()
		return
	}

	delay := w.retryDelays[j.Retries]
	if retryAfter > delay {
		delay = retryAfter
	}
	executeAfter := w.clock.Now().Add(delay)
	if _, err := w.jobs.RetryJob(ctx, j.ID, executeAfter); err != nil {
		w.logger.Error("failed to reschedule job %d: %v", j.ID, err)
		return
	}
	w.logger.Info("job %d scheduled for retry at %v", j.ID, executeAfter)
	metrics.JobOutcomes.WithLabelValues("retried").Inc()
}
