package job

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/adewale/feedrefresh/pkg/timeprovider"
)

// MemoryRepository is an in-memory Repository implementation for tests.
// It reproduces the CAS and locking semantics of PostgresRepository
// (a transition only succeeds if the job's current state matches the
// expected old state) without needing a database.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*Job
	clock  timeprovider.TimeProvider
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty MemoryRepository using the given
// clock for timestamps (use timeprovider.FakeClock in tests that assert
// on exact times).
func NewMemoryRepository(clock timeprovider.TimeProvider) *MemoryRepository {
	return &MemoryRepository{
		jobs:  make(map[int64]*Job),
		clock: clock,
	}
}

func (r *MemoryRepository) clone(j *Job) *Job {
	cp := *j
	return &cp
}

func (r *MemoryRepository) GetByID(ctx context.Context, id int64) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(j), nil
}

func (r *MemoryRepository) GetByFeedID(ctx context.Context, feedID int64) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.FeedID == feedID {
			return r.clone(j), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) GetOrCreate(ctx context.Context, feedID int64) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.FeedID == feedID {
			return r.clone(j), nil
		}
	}

	r.nextID++
	now := r.clock.Now()
	j := &Job{
		ID:             r.nextID,
		FeedID:         feedID,
		State:          StatePending,
		StateChangedAt: now,
		ExecuteAfter:   now,
		Retries:        0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.jobs[j.ID] = j
	return r.clone(j), nil
}

func (r *MemoryRepository) transitLocked(id int64, oldState, newState State, mutate func(j *Job)) (*Job, error) {
	j, ok := r.jobs[id]
	if !ok || j.State != oldState {
		return nil, ErrStateTransitionFailed
	}
	j.State = newState
	now := r.clock.Now()
	j.StateChangedAt = now
	j.UpdatedAt = now
	if mutate != nil {
		mutate(j)
	}
	return r.clone(j), nil
}

func (r *MemoryRepository) TransitState(ctx context.Context, id int64, oldState, newState State) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitLocked(id, oldState, newState, nil)
}

func (r *MemoryRepository) TransitStateBatch(ctx context.Context, ids []int64, oldState, newState State) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*Job
	for _, id := range ids {
		j, err := r.transitLocked(id, oldState, newState, nil)
		if err == nil {
			result = append(result, j)
		}
	}
	return result, nil
}

func (r *MemoryRepository) CompleteJob(ctx context.Context, id int64) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitLocked(id, StateInProgress, StateComplete, func(j *Job) {
		j.Retries = 0
	})
}

// CompleteJobTx ignores tx: MemoryRepository has no real transaction to
// join, so it behaves exactly like CompleteJob.
func (r *MemoryRepository) CompleteJobTx(ctx context.Context, tx *sql.Tx, id int64) (*Job, error) {
	return r.CompleteJob(ctx, id)
}

func (r *MemoryRepository) RetryJob(ctx context.Context, id int64, executeAfter time.Time) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitLocked(id, StateInProgress, StatePending, func(j *Job) {
		j.Retries++
		j.ExecuteAfter = executeAfter
	})
}

func (r *MemoryRepository) FailJob(ctx context.Context, id int64) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitLocked(id, StateInProgress, StateFailed, nil)
}

func (r *MemoryRepository) ResetForRefresh(ctx context.Context, feedID int64) (*Job, error) {
	j, err := r.GetOrCreate(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if j.State == StatePending || j.State == StateInProgress {
		return j, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitLocked(j.ID, j.State, StatePending, func(j *Job) {
		j.Retries = 0
		j.ExecuteAfter = r.clock.Now()
	})
}

func (r *MemoryRepository) ListDueForExecution(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*Job
	for _, j := range r.jobs {
		if j.State == StatePending && !j.ExecuteAfter.After(now) {
			result = append(result, r.clone(j))
		}
	}
	sortJobsByExecuteAfter(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) ListStaleComplete(ctx context.Context, olderThan time.Time, limit int) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*Job
	for _, j := range r.jobs {
		if j.State == StateComplete && j.StateChangedAt.Before(olderThan) {
			result = append(result, r.clone(j))
		}
	}
	sortJobsByStateChangedAt(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func sortJobsByExecuteAfter(jobs []*Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].ExecuteAfter.Before(jobs[j-1].ExecuteAfter); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}

func sortJobsByStateChangedAt(jobs []*Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].StateChangedAt.Before(jobs[j-1].StateChangedAt); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}
