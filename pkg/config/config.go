// Package config provides environment-driven configuration for the feed
// refresh pipeline, loaded via struct tags rather than a config file.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Settings holds every tunable named in the configuration table: database
// connectivity, the shared feed-update parameters, and the per-component
// scheduler/worker tunables.
type Settings struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	FeedUpdateFrequencyS  int    `env:"FEED_UPDATE_FREQUENCY_S" envDefault:"3600"`
	FeedUpdateRetryDelayM string `env:"FEED_UPDATE_RETRY_DELAY_M" envDefault:"2,5,8"`
	FeedUpdateFetchTimeoutS int  `env:"FEED_UPDATE_FETCH_TIMEOUT_S" envDefault:"30"`
	FeedMaxSizeB          int64  `env:"FEED_MAX_SIZE_B" envDefault:"10485760"`

	Scheduler SchedulerSettings `envPrefix:"SCHEDULER_"`
	Worker    WorkerSettings    `envPrefix:"WORKER_"`

	RateLimitRequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"30"`
	RateLimitBurst             int `env:"RATE_LIMIT_BURST" envDefault:"5"`
}

// SchedulerSettings configures the scheduler tick loop.
type SchedulerSettings struct {
	IntervalS int `env:"INTERVAL_S" envDefault:"60"`
	BatchSize int `env:"BATCH_SIZE" envDefault:"100"`
}

// WorkerSettings configures the worker tick loop.
type WorkerSettings struct {
	IntervalS int `env:"INTERVAL_S" envDefault:"5"`
	BatchSize int `env:"BATCH_SIZE" envDefault:"10"`
}

// Load reads Settings from the environment, applying the defaults above
// for anything unset.
func Load() (*Settings, error) {
	s := &Settings{}
	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks invariants that struct tags alone can't express.
func (s *Settings) Validate() error {
	if s.FeedUpdateFrequencyS < 1 {
		return fmt.Errorf("feed_update_frequency_s must be >= 1")
	}
	if s.Scheduler.IntervalS < 1 {
		return fmt.Errorf("scheduler.interval_s must be >= 1")
	}
	if s.Scheduler.BatchSize < 1 {
		return fmt.Errorf("scheduler.batch_size must be >= 1")
	}
	if s.Worker.IntervalS < 1 {
		return fmt.Errorf("worker.interval_s must be >= 1")
	}
	if s.Worker.BatchSize < 1 {
		return fmt.Errorf("worker.batch_size must be >= 1")
	}
	if len(s.RetryDelays()) == 0 {
		return fmt.Errorf("feed_update_retry_delay_m must list at least one delay")
	}
	return nil
}

// RetryDelays parses the comma-separated retry delay list (minutes) into
// the ordered backoff table the worker indexes by a job's retry count.
// The list's length is the retry cap: once a job's retries index runs past
// the end of this list, the next failure is terminal.
func (s *Settings) RetryDelays() []int {
	return parseIntList(s.FeedUpdateRetryDelayM)
}

func parseIntList(csv string) []int {
	var out []int
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				n, err := parseInt(csv[start:i])
				if err == nil {
					out = append(out, n)
				}
			}
			start = i + 1
		}
	}
	return out
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
