package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/adewale/feedrefresh/pkg/atomic"
	"github.com/adewale/feedrefresh/pkg/config"
	"github.com/adewale/feedrefresh/pkg/feed"
	"github.com/adewale/feedrefresh/pkg/fetcher"
	"github.com/adewale/feedrefresh/pkg/job"
	"github.com/adewale/feedrefresh/pkg/logging"
	"github.com/adewale/feedrefresh/pkg/pgdb"
	"github.com/adewale/feedrefresh/pkg/post"
	"github.com/adewale/feedrefresh/pkg/ratelimit"
)

// app bundles the collaborators every subcommand needs, wired once at
// process entry rather than via a DI container.
type app struct {
	settings *config.Settings
	logger   logging.Logger
	db       *sql.DB

	jobs   job.Repository
	feeds  feed.Repository
	posts  post.Repository
	atomic *atomic.Provider
}

func bootstrap() (*app, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(settings.LogLevel, logging.ParseFormat(settings.LogFormat))

	db, err := pgdb.Open(settings.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	atomicProvider := atomic.New(db)

	return &app{
		settings: settings,
		logger:   logger,
		db:       db,
		jobs:     job.NewPostgresRepository(db, atomicProvider),
		feeds:    feed.NewPostgresRepository(db),
		posts:    post.NewPostgresRepository(db, atomicProvider),
		atomic:   atomicProvider,
	}, nil
}

func (a *app) close() {
	a.db.Close()
}

func (a *app) newFetcher() *fetcher.Fetcher {
	rateLimiter := ratelimit.New(a.settings.RateLimitRequestsPerMinute, a.settings.RateLimitBurst)
	return fetcher.New(rateLimiter, a.settings.FeedMaxSizeB)
}

func (a *app) retryDelays() []time.Duration {
	minutes := a.settings.RetryDelays()
	delays := make([]time.Duration, len(minutes))
	for i, m := range minutes {
		delays[i] = time.Duration(m) * time.Minute
	}
	return delays
}
