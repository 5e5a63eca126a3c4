// Package pgdb opens the Postgres connection pool and bootstraps the
// schema the feed refresh pipeline persists against.
package pgdb

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open opens a pooled connection to Postgres, verifies connectivity, and
// initializes the schema if it doesn't already exist.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// initSchema creates the feed, feed_post, and feed_refresh_job tables if
// they don't already exist. State is persisted as a small integer
// (1=pending, 2=in_progress, 3=complete, 4=failed) to match the contract
// external consumers of this table already rely on.
func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS feed (
		id SERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS feed_post (
		id SERIAL PRIMARY KEY,
		feed_id INTEGER NOT NULL REFERENCES feed(id) ON DELETE CASCADE,
		guid TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (feed_id, guid)
	);

	CREATE INDEX IF NOT EXISTS idx_feed_post_feed_id ON feed_post(feed_id);
	CREATE INDEX IF NOT EXISTS idx_feed_post_published_at ON feed_post(published_at);

	CREATE TABLE IF NOT EXISTS feed_refresh_job (
		id SERIAL PRIMARY KEY,
		feed_id INTEGER NOT NULL UNIQUE REFERENCES feed(id) ON DELETE CASCADE,
		state SMALLINT NOT NULL DEFAULT 1,
		state_changed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		execute_after TIMESTAMPTZ NOT NULL DEFAULT now(),
		retries INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_feed_refresh_job_state ON feed_refresh_job(state);
	CREATE INDEX IF NOT EXISTS idx_feed_refresh_job_execute_after ON feed_refresh_job(execute_after);
	`

	_, err := db.Exec(schema)
	return err
}
