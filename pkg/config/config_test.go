package config

import (
	"os"
	"reflect"
	"testing"
)

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
	fn()
}

func TestLoadDefaults(t *testing.T) {
	var s *Settings
	var err error
	withEnv(t, map[string]string{"DATABASE_URL": "postgres://localhost/test"}, func() {
		s, err = Load()
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.FeedUpdateFrequencyS != 3600 {
		t.Errorf("FeedUpdateFrequencyS = %d, want 3600", s.FeedUpdateFrequencyS)
	}
	if s.Scheduler.IntervalS != 60 {
		t.Errorf("Scheduler.IntervalS = %d, want 60", s.Scheduler.IntervalS)
	}
	if s.Scheduler.BatchSize != 100 {
		t.Errorf("Scheduler.BatchSize = %d, want 100", s.Scheduler.BatchSize)
	}
	if s.Worker.IntervalS != 5 {
		t.Errorf("Worker.IntervalS = %d, want 5", s.Worker.IntervalS)
	}
	if s.Worker.BatchSize != 10 {
		t.Errorf("Worker.BatchSize = %d, want 10", s.Worker.BatchSize)
	}
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	var s *Settings
	var err error
	withEnv(t, map[string]string{
		"DATABASE_URL":         "postgres://localhost/test",
		"SCHEDULER_INTERVAL_S": "30",
		"WORKER_BATCH_SIZE":    "25",
	}, func() {
		s, err = Load()
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.Scheduler.IntervalS != 30 {
		t.Errorf("Scheduler.IntervalS = %d, want 30", s.Scheduler.IntervalS)
	}
	if s.Worker.BatchSize != 25 {
		t.Errorf("Worker.BatchSize = %d, want 25", s.Worker.BatchSize)
	}
}

func TestRetryDelays(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want []int
	}{
		{"spec example", "2,5,8", []int{2, 5, 8}},
		{"single value", "10", []int{10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Settings{FeedUpdateRetryDelayM: tt.csv}
			got := s.RetryDelays()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RetryDelays() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateRejectsEmptyRetryDelays(t *testing.T) {
	s := &Settings{
		FeedUpdateFrequencyS:  3600,
		FeedUpdateRetryDelayM: "",
		Scheduler:             SchedulerSettings{IntervalS: 1, BatchSize: 1},
		Worker:                WorkerSettings{IntervalS: 1, BatchSize: 1},
	}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for empty retry delay list")
	}
}
