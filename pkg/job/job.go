// Package job implements the FeedRefreshJob state machine and its
// persistence contract: a durable, CAS-protected job queue driving the
// scheduler and worker loops.
package job

import (
	"errors"
	"time"
)

// State is the persisted job state. Values are pinned to small integers
// because external consumers of the feed_refresh_job table depend on the
// exact encoding.
type State int16

const (
	StatePending    State = 1
	StateInProgress State = 2
	StateComplete   State = 3
	StateFailed     State = 4
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is a single feed's refresh job: the persisted unit the scheduler and
// worker loops move through the state machine below.
//
//	pending -> in_progress -> complete -> (stale) -> pending
//	                       -> pending   (retry, with backoff)
//	                       -> failed    (retries exhausted)
//	complete -> pending (reset)
//	failed   -> pending (reset)
type Job struct {
	ID             int64
	FeedID         int64
	State          State
	StateChangedAt time.Time
	ExecuteAfter   time.Time
	Retries        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var (
	// ErrNotFound is returned when a job lookup finds no matching row.
	ErrNotFound = errors.New("job not found")
	// ErrNoFeed is returned by GetOrCreate when feed_id references no row
	// in the feed table (a foreign-key violation).
	ErrNoFeed = errors.New("feed does not exist")
	// ErrStateTransitionFailed is returned when a CAS transition's WHERE
	// clause matches no row: the job was not in the expected old state at
	// the time of the update (including when it's already in the target
	// state; that is not a silent no-op).
	ErrStateTransitionFailed = errors.New("job state transition failed")
)
