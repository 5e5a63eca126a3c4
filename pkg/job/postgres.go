package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/adewale/feedrefresh/pkg/atomic"
)

// PostgresRepository implements Repository against the feed_refresh_job
// table, using SELECT ... FOR UPDATE to lock the target row(s) before each
// CAS update, matching the original system's transit_state algorithm.
type PostgresRepository struct {
	db      *sql.DB
	atomic  *atomic.Provider
}

// NewPostgresRepository creates a PostgresRepository backed by db, using
// atomicProvider to scope the lock+CAS transactions.
func NewPostgresRepository(db *sql.DB, atomicProvider *atomic.Provider) *PostgresRepository {
	return &PostgresRepository{db: db, atomic: atomicProvider}
}

var _ Repository = (*PostgresRepository)(nil)

const jobColumns = "id, feed_id, state, state_changed_at, execute_after, retries, created_at, updated_at"

func scanJob(row interface{ Scan(...interface{}) error }) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.FeedID, &j.State, &j.StateChangedAt, &j.ExecuteAfter, &j.Retries, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM feed_refresh_job WHERE id = $1", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return j, nil
}

func (r *PostgresRepository) GetByFeedID(ctx context.Context, feedID int64) (*Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM feed_refresh_job WHERE feed_id = $1", feedID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by feed id: %w", err)
	}
	return j, nil
}

func (r *PostgresRepository) GetOrCreate(ctx context.Context, feedID int64) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO feed_refresh_job (feed_id, state, execute_after)
		VALUES ($1, $2, now())
		ON CONFLICT (feed_id) DO UPDATE SET feed_id = feed_refresh_job.feed_id
		RETURNING `+jobColumns, feedID, StatePending)
	j, err := scanJob(row)
	if isForeignKeyViolation(err) {
		return nil, ErrNoFeed
	}
	if err != nil {
		return nil, fmt.Errorf("get or create job: %w", err)
	}
	return j, nil
}

// isForeignKeyViolation reports whether err is a Postgres foreign-key
// violation (SQLSTATE 23503).
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}

func (r *PostgresRepository) TransitState(ctx context.Context, id int64, oldState, newState State) (*Job, error) {
	var result *Job
	err := r.atomic.Atomic(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT id FROM feed_refresh_job WHERE id = $1 FOR UPDATE", id); err != nil {
			return fmt.Errorf("lock job: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE feed_refresh_job
			SET state = $1, state_changed_at = now(), updated_at = now()
			WHERE id = $2 AND state = $3
			RETURNING `+jobColumns, newState, id, oldState)

		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStateTransitionFailed
		}
		if err != nil {
			return fmt.Errorf("transit state: %w", err)
		}
		result = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) TransitStateBatch(ctx context.Context, ids []int64, oldState, newState State) ([]*Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var result []*Job
	err := r.atomic.Atomic(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT id FROM feed_refresh_job WHERE id = ANY($1) FOR UPDATE", idsToArray(ids)); err != nil {
			return fmt.Errorf("lock jobs: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			UPDATE feed_refresh_job
			SET state = $1, state_changed_at = now(), updated_at = now()
			WHERE id = ANY($2) AND state = $3
			RETURNING `+jobColumns, newState, idsToArray(ids), oldState)
		if err != nil {
			return fmt.Errorf("transit state batch: %w", err)
		}
		defer rows.Close()

		result, err = scanJobs(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) CompleteJob(ctx context.Context, id int64) (*Job, error) {
	var result *Job
	err := r.atomic.Atomic(ctx, func(tx *sql.Tx) error {
		j, err := r.completeJobTx(ctx, tx, id)
		if err != nil {
			return err
		}
		result = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) CompleteJobTx(ctx context.Context, tx *sql.Tx, id int64) (*Job, error) {
	return r.completeJobTx(ctx, tx, id)
}

func (r *PostgresRepository) completeJobTx(ctx context.Context, tx *sql.Tx, id int64) (*Job, error) {
	if _, err := tx.ExecContext(ctx, "SELECT id FROM feed_refresh_job WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, fmt.Errorf("lock job: %w", err)
	}
	row := tx.QueryRowContext(ctx, `
		UPDATE feed_refresh_job
		SET state = $1, state_changed_at = now(), updated_at = now(), retries = 0
		WHERE id = $2 AND state = $3
		RETURNING `+jobColumns, StateComplete, id, StateInProgress)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateTransitionFailed
	}
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	return j, nil
}

func (r *PostgresRepository) RetryJob(ctx context.Context, id int64, executeAfter time.Time) (*Job, error) {
	var result *Job
	err := r.atomic.Atomic(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT id FROM feed_refresh_job WHERE id = $1 FOR UPDATE", id); err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE feed_refresh_job
			SET state = $1, state_changed_at = now(), updated_at = now(), retries = retries + 1, execute_after = $2
			WHERE id = $3 AND state = $4
			RETURNING `+jobColumns, StatePending, executeAfter, id, StateInProgress)
		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStateTransitionFailed
		}
		if err != nil {
			return fmt.Errorf("retry job: %w", err)
		}
		result = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) FailJob(ctx context.Context, id int64) (*Job, error) {
	return r.TransitState(ctx, id, StateInProgress, StateFailed)
}

func (r *PostgresRepository) ResetForRefresh(ctx context.Context, feedID int64) (*Job, error) {
	j, err := r.GetOrCreate(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("reset for refresh: %w", err)
	}

	if j.State == StatePending || j.State == StateInProgress {
		return j, nil
	}

	var result *Job
	err = r.atomic.Atomic(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT id FROM feed_refresh_job WHERE id = $1 FOR UPDATE", j.ID); err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE feed_refresh_job
			SET state = $1, state_changed_at = now(), updated_at = now(), retries = 0, execute_after = now()
			WHERE id = $2 AND state = $3
			RETURNING `+jobColumns, StatePending, j.ID, j.State)
		updated, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrStateTransitionFailed
		}
		if err != nil {
			return fmt.Errorf("reset for refresh: %w", err)
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) ListDueForExecution(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM feed_refresh_job
		WHERE state = $1 AND execute_after <= $2
		ORDER BY execute_after ASC
		LIMIT $3`, StatePending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due for execution: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *PostgresRepository) ListStaleComplete(ctx context.Context, olderThan time.Time, limit int) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM feed_refresh_job
		WHERE state = $1 AND state_changed_at < $2
		ORDER BY state_changed_at ASC
		LIMIT $3`, StateComplete, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale complete: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// idsToArray renders ids as a Postgres array literal for use with = ANY($1).
func idsToArray(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
