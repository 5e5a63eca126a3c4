package job

import (
	"context"
	"database/sql"
	"time"
)

// Repository defines the persistence contract for FeedRefreshJob. It is
// implemented by PostgresRepository for production and by MemoryRepository
// for tests, the same dependency-injection shape the teacher's
// FeedRepository interface uses.
type Repository interface {
	// GetByID retrieves a job by its id. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id int64) (*Job, error)

	// GetByFeedID retrieves the job owned by a feed. Returns ErrNotFound
	// if the feed has no job yet.
	GetByFeedID(ctx context.Context, feedID int64) (*Job, error)

	// GetOrCreate returns the job for a feed, creating one in state
	// pending (execute_after = now) if none exists yet.
	GetOrCreate(ctx context.Context, feedID int64) (*Job, error)

	// TransitState performs a single CAS transition: the job is locked,
	// then updated only if its current state equals oldState. Returns
	// ErrStateTransitionFailed if the job was not in oldState.
	// PostgresRepository builds FailJob on it; the worker's claim goes
	// through TransitStateBatch and ResetForRefresh runs its own CAS.
	TransitState(ctx context.Context, id int64, oldState, newState State) (*Job, error)

	// TransitStateBatch performs a CAS transition across many jobs at
	// once, touching only state, state_changed_at and updated_at. It returns only
	// the subset of ids that were actually in oldState at the time of
	// the update; ids not in oldState are silently omitted from the
	// result, not treated as an error. Used by the scheduler to promote
	// stale complete jobs to pending (already retries=0 from
	// CompleteJob), and by the worker to claim pending jobs without
	// disturbing their accumulated retries count.
	TransitStateBatch(ctx context.Context, ids []int64, oldState, newState State) ([]*Job, error)

	// CompleteJob performs the worker's success transition:
	// in_progress -> complete, resetting retries to 0.
	CompleteJob(ctx context.Context, id int64) (*Job, error)

	// CompleteJobTx is CompleteJob composed inside a caller-owned
	// transaction, so it commits atomically alongside the post inserts
	// and feed metadata update from the same refresh.
	CompleteJobTx(ctx context.Context, tx *sql.Tx, id int64) (*Job, error)

	// RetryJob performs the worker's retriable-failure transition:
	// in_progress -> pending, incrementing retries and setting
	// execute_after to the given backoff deadline.
	RetryJob(ctx context.Context, id int64, executeAfter time.Time) (*Job, error)

	// FailJob performs the worker's terminal-failure transition:
	// in_progress -> failed, once the retry budget is exhausted.
	FailJob(ctx context.Context, id int64) (*Job, error)

	// ResetForRefresh transitions a job back to pending regardless of
	// whether it is currently complete or failed, resetting retries and
	// execute_after. It is a no-op (returns the job unchanged) if the job
	// is already pending or in_progress.
	ResetForRefresh(ctx context.Context, feedID int64) (*Job, error)

	// ListDueForExecution returns pending jobs whose execute_after has
	// elapsed, ordered oldest-first, capped at limit. This is the
	// worker's claim query.
	ListDueForExecution(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// ListStaleComplete returns complete jobs whose state_changed_at is
	// older than olderThan, capped at limit. This is the scheduler's
	// promotion query.
	ListStaleComplete(ctx context.Context, olderThan time.Time, limit int) ([]*Job, error)
}
