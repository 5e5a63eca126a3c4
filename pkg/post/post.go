// Package post implements the FeedPost entity and its repository contract.
package post

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adewale/feedrefresh/pkg/atomic"
)

// Post is a single item observed in a feed. Uniqueness is on
// (FeedID, GUID): the same guid reappearing in a later fetch is dropped,
// not updated, matching the at-least-once/no-exactly-once ingestion
// invariant.
type Post struct {
	ID          int64
	FeedID      int64
	GUID        string
	Title       string
	URL         string
	Summary     string
	PublishedAt time.Time
	CreatedAt   time.Time
}

// ErrNotFound is returned when a post lookup finds no matching row.
var ErrNotFound = errors.New("post not found")

// Repository defines the persistence contract for FeedPost.
type Repository interface {
	// Create inserts a post, silently reporting created=false (not an
	// error) when (feed_id, guid) already exists.
	Create(ctx context.Context, p *Post) (created bool, err error)
	// CreateMany inserts all of posts in a single transaction, so readers
	// see all-or-nothing for one feed refresh. Individual (feed_id, guid)
	// conflicts are still dropped, not treated as a transaction error.
	// Returns only the posts actually inserted.
	CreateMany(ctx context.Context, posts []*Post) ([]*Post, error)
	// CreateManyTx is CreateMany composed inside a caller-owned
	// transaction.
	CreateManyTx(ctx context.Context, tx *sql.Tx, posts []*Post) ([]*Post, error)
	ListByFeedID(ctx context.Context, feedID int64, limit int) ([]*Post, error)
	CountByFeedID(ctx context.Context, feedID int64) (int64, error)
}

// PostgresRepository implements Repository against the feed_post table.
type PostgresRepository struct {
	db     *sql.DB
	atomic *atomic.Provider
}

// NewPostgresRepository creates a PostgresRepository backed by db.
func NewPostgresRepository(db *sql.DB, atomicProvider *atomic.Provider) *PostgresRepository {
	return &PostgresRepository{db: db, atomic: atomicProvider}
}

var _ Repository = (*PostgresRepository)(nil)

const postColumns = "id, feed_id, guid, title, url, summary, published_at, created_at"

func scanPost(row interface{ Scan(...interface{}) error }) (*Post, error) {
	var p Post
	if err := row.Scan(&p.ID, &p.FeedID, &p.GUID, &p.Title, &p.URL, &p.Summary, &p.PublishedAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPosts(rows *sql.Rows) ([]*Post, error) {
	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, p *Post) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO feed_post (feed_id, guid, title, url, summary, published_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (feed_id, guid) DO NOTHING
		RETURNING `+postColumns,
		p.FeedID, p.GUID, p.Title, p.URL, p.Summary, p.PublishedAt)

	inserted, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict: a post with this (feed_id, guid) already exists.
		return false, nil
	}
	if isForeignKeyViolation(err) {
		return false, fmt.Errorf("create post: %w", err)
	}
	if err != nil {
		return false, fmt.Errorf("create post: %w", err)
	}

	*p = *inserted
	return true, nil
}

func (r *PostgresRepository) CreateMany(ctx context.Context, posts []*Post) ([]*Post, error) {
	var inserted []*Post
	err := r.atomic.Atomic(ctx, func(tx *sql.Tx) error {
		ins, err := r.createManyTx(ctx, tx, posts)
		if err != nil {
			return err
		}
		inserted = ins
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func (r *PostgresRepository) CreateManyTx(ctx context.Context, tx *sql.Tx, posts []*Post) ([]*Post, error) {
	return r.createManyTx(ctx, tx, posts)
}

func (r *PostgresRepository) createManyTx(ctx context.Context, tx *sql.Tx, posts []*Post) ([]*Post, error) {
	var inserted []*Post
	for _, p := range posts {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO feed_post (feed_id, guid, title, url, summary, published_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (feed_id, guid) DO NOTHING
			RETURNING `+postColumns,
			p.FeedID, p.GUID, p.Title, p.URL, p.Summary, p.PublishedAt)

		created, err := scanPost(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create post: %w", err)
		}
		inserted = append(inserted, created)
	}
	return inserted, nil
}

func (r *PostgresRepository) ListByFeedID(ctx context.Context, feedID int64, limit int) ([]*Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM feed_post
		WHERE feed_id = $1
		ORDER BY published_at DESC
		LIMIT $2`, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts by feed id: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

func (r *PostgresRepository) CountByFeedID(ctx context.Context, feedID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM feed_post WHERE feed_id = $1", feedID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count posts by feed id: %w", err)
	}
	return count, nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}
