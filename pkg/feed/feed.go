// Package feed implements the Feed entity and its repository contract.
package feed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Feed is a subscribed RSS/Atom source. url is the natural key.
type Feed struct {
	ID          int64
	URL         string
	Title       string
	PublishedAt time.Time
	CreatedAt   time.Time
}

var (
	// ErrNotFound is returned when a feed lookup finds no matching row.
	ErrNotFound = errors.New("feed not found")
	// ErrAlreadyExists is returned by Create when the url already exists.
	ErrAlreadyExists = errors.New("feed already exists")
)

// Repository defines the persistence contract for Feed.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Feed, error)
	GetByURL(ctx context.Context, url string) (*Feed, error)
	Create(ctx context.Context, url, title string) (*Feed, error)
	// UpdateURL migrates a feed to a new URL after the fetcher reports a
	// permanent (301/308) redirect, so a moved feed isn't re-fetched from
	// a dead URL forever.
	UpdateURL(ctx context.Context, id int64, newURL string) error
	// UpdateContent persists the feed-level metadata derived from a
	// successful parse: title and the watermark (the newest surviving
	// item's published_at, per the parser's invariant).
	UpdateContent(ctx context.Context, id int64, title string, publishedAt time.Time) error
	// UpdateContentTx is UpdateContent composed inside a caller-owned
	// transaction.
	UpdateContentTx(ctx context.Context, tx *sql.Tx, id int64, title string, publishedAt time.Time) error
	ListActive(ctx context.Context) ([]*Feed, error)
}

// PostgresRepository implements Repository against the feed table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a PostgresRepository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

const feedColumns = "id, url, title, published_at, created_at"

func scanFeed(row interface{ Scan(...interface{}) error }) (*Feed, error) {
	var f Feed
	var publishedAt sql.NullTime
	if err := row.Scan(&f.ID, &f.URL, &f.Title, &publishedAt, &f.CreatedAt); err != nil {
		return nil, err
	}
	if publishedAt.Valid {
		f.PublishedAt = publishedAt.Time
	}
	return &f, nil
}

func scanFeeds(rows *sql.Rows) ([]*Feed, error) {
	var feeds []*Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+feedColumns+" FROM feed WHERE id = $1", id)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feed by id: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) GetByURL(ctx context.Context, url string) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+feedColumns+" FROM feed WHERE url = $1", url)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feed by url: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) Create(ctx context.Context, url, title string) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO feed (url, title) VALUES ($1, $2)
		RETURNING `+feedColumns, url, title)
	f, err := scanFeed(row)
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("create feed: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) UpdateURL(ctx context.Context, id int64, newURL string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE feed SET url = $1 WHERE id = $2", newURL, id)
	if err != nil {
		return fmt.Errorf("update feed url: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateContent(ctx context.Context, id int64, title string, publishedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE feed SET title = $1, published_at = $2 WHERE id = $3", title, publishedAt, id)
	if err != nil {
		return fmt.Errorf("update feed content: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateContentTx(ctx context.Context, tx *sql.Tx, id int64, title string, publishedAt time.Time) error {
	_, err := tx.ExecContext(ctx, "UPDATE feed SET title = $1, published_at = $2 WHERE id = $3", title, publishedAt, id)
	if err != nil {
		return fmt.Errorf("update feed content: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListActive(ctx context.Context) ([]*Feed, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+feedColumns+" FROM feed ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list active feeds: %w", err)
	}
	defer rows.Close()
	return scanFeeds(rows)
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
