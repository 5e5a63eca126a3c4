package worker

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adewale/feedrefresh/pkg/atomic"
	"github.com/adewale/feedrefresh/pkg/feed"
	"github.com/adewale/feedrefresh/pkg/fetcher"
	"github.com/adewale/feedrefresh/pkg/job"
	"github.com/adewale/feedrefresh/pkg/logging"
	"github.com/adewale/feedrefresh/pkg/post"
	"github.com/adewale/feedrefresh/pkg/timeprovider"
)

// failingRunner simulates a transaction that never commits, to test that
// handleSuccess leaves a job's state untouched rather than partially
// applying the completion, post inserts, or feed metadata update.
type failingRunner struct{ err error }

func (r failingRunner) Atomic(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return r.err
}

const happyRSS = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
<title>Example Feed</title>
<item>
<title>A</title>
<link>https://example.com/a</link>
<guid>a</guid>
<pubDate>Wed, 30 Aug 2023 10:02:26 GMT</pubDate>
</item>
<item>
<title>B</title>
<link>https://example.com/b</link>
<guid>b</guid>
<pubDate>Wed, 30 Aug 2023 10:12:16 GMT</pubDate>
</item>
<item>
<title>C</title>
<link>https://example.com/c</link>
<guid>c</guid>
<pubDate>Wed, 30 Aug 2023 12:29:25 GMT</pubDate>
</item>
</channel>
</rss>`

func testLogger() logging.Logger {
	var buf bytes.Buffer
	return logging.NewWithWriter("error", logging.FormatJSON, &buf)
}

func newHarness(t *testing.T, server *httptest.Server, maxBodySize int64, retryDelays []time.Duration) (*Worker, *job.MemoryRepository, *feed.MemoryRepository, *post.MemoryRepository, *feed.Feed, *timeprovider.FakeClock) {
	t.Helper()
	clock := timeprovider.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	jobs := job.NewMemoryRepository(clock)
	feeds := feed.NewMemoryRepository(clock)
	posts := post.NewMemoryRepository(clock)

	f, err := feeds.Create(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("Create feed: %v", err)
	}
	if _, err := jobs.GetOrCreate(context.Background(), f.ID); err != nil {
		t.Fatalf("GetOrCreate job: %v", err)
	}

	fetch := fetcher.NewForTesting(nil, maxBodySize)
	w := New(jobs, feeds, posts, atomic.NoopRunner{}, fetch, testLogger(), clock, time.Second, 10, 5*time.Second, retryDelays)
	return w, jobs, feeds, posts, f, clock
}

func TestWorkerHappyFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(happyRSS))
	}))
	defer server.Close()

	w, jobs, feeds, posts, f, _ := newHarness(t, server, 10*1024*1024, []time.Duration{2 * time.Minute, 5 * time.Minute, 8 * time.Minute})
	ctx := context.Background()

	w.tick(ctx)

	jb, _ := jobs.GetByFeedID(ctx, f.ID)
	if jb.State != job.StateComplete {
		t.Fatalf("job state = %v, want complete", jb.State)
	}
	if jb.Retries != 0 {
		t.Errorf("retries = %d, want 0", jb.Retries)
	}

	got, _ := feeds.GetByID(ctx, f.ID)
	want := time.Date(2023, 8, 30, 12, 29, 25, 0, time.UTC)
	if !got.PublishedAt.Equal(want) {
		t.Errorf("feed PublishedAt = %v, want %v", got.PublishedAt, want)
	}

	count, _ := posts.CountByFeedID(ctx, f.ID)
	if count != 3 {
		t.Errorf("post count = %d, want 3", count)
	}
}

func TestWorkerSizeLimitSchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	w, jobs, feeds, posts, f, clock := newHarness(t, server, 1024, []time.Duration{2 * time.Minute, 5 * time.Minute, 8 * time.Minute})
	ctx := context.Background()

	w.tick(ctx)

	jb, _ := jobs.GetByFeedID(ctx, f.ID)
	if jb.State != job.StatePending {
		t.Fatalf("job state = %v, want pending (scheduled for retry)", jb.State)
	}
	if jb.Retries != 1 {
		t.Errorf("retries = %d, want 1", jb.Retries)
	}
	if !jb.ExecuteAfter.After(clock.Now()) {
		t.Errorf("ExecuteAfter = %v, want after %v", jb.ExecuteAfter, clock.Now())
	}

	got, _ := feeds.GetByID(ctx, f.ID)
	if !got.PublishedAt.IsZero() {
		t.Errorf("feed PublishedAt = %v, want unchanged (zero)", got.PublishedAt)
	}
	count, _ := posts.CountByFeedID(ctx, f.ID)
	if count != 0 {
		t.Errorf("post count = %d, want 0", count)
	}
}

func TestWorkerPermanentRedirectMigratesFeedURL(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(happyRSS))
	}))
	defer target.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusMovedPermanently)
	}))
	defer origin.Close()

	w, jobs, feeds, _, f, _ := newHarness(t, origin, 10*1024*1024, []time.Duration{2 * time.Minute})
	ctx := context.Background()

	w.tick(ctx)

	jb, _ := jobs.GetByFeedID(ctx, f.ID)
	if jb.State != job.StateComplete {
		t.Fatalf("job state = %v, want complete", jb.State)
	}

	got, _ := feeds.GetByID(ctx, f.ID)
	if got.URL != target.URL {
		t.Errorf("feed URL = %q, want migrated to %q", got.URL, target.URL)
	}
}

func TestWorkerRetryAfterWidensBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	shortDelay := 10 * time.Second
	w, jobs, _, _, f, clock := newHarness(t, server, 10*1024*1024, []time.Duration{shortDelay, 2 * time.Minute})
	ctx := context.Background()

	before := clock.Now()
	w.tick(ctx)

	jb, _ := jobs.GetByFeedID(ctx, f.ID)
	if jb.State != job.StatePending {
		t.Fatalf("job state = %v, want pending (scheduled for retry)", jb.State)
	}
	// Retry-After (120s) exceeds the configured first delay (10s), so it
	// should win.
	minExpected := before.Add(100 * time.Second)
	if jb.ExecuteAfter.Before(minExpected) {
		t.Errorf("ExecuteAfter = %v, want at least %v (Retry-After should widen the delay)", jb.ExecuteAfter, minExpected)
	}
}

func TestWorkerRetryExhaustionFailsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	retryDelays := []time.Duration{2 * time.Minute, 5 * time.Minute, 8 * time.Minute}
	w, jobs, _, _, f, clock := newHarness(t, server, 10*1024*1024, retryDelays)
	ctx := context.Background()

	jb, _ := jobs.GetByFeedID(ctx, f.ID)
	for i := 0; i < len(retryDelays); i++ {
		jb, _ = jobs.TransitState(ctx, jb.ID, job.StatePending, job.StateInProgress)
		jb, _ = jobs.RetryJob(ctx, jb.ID, clock.Now().Add(-time.Minute))
	}
	if jb.Retries != len(retryDelays) {
		t.Fatalf("setup: retries = %d, want %d", jb.Retries, len(retryDelays))
	}

	w.tick(ctx)

	got, _ := jobs.GetByFeedID(ctx, f.ID)
	if got.State != job.StateFailed {
		t.Fatalf("job state = %v, want failed after exhausting retries", got.State)
	}
}

func TestWorkerTransactionFailureLeavesJobInProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(happyRSS))
	}))
	defer server.Close()

	clock := timeprovider.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	jobs := job.NewMemoryRepository(clock)
	feeds := feed.NewMemoryRepository(clock)
	posts := post.NewMemoryRepository(clock)
	ctx := context.Background()

	f, err := feeds.Create(ctx, server.URL, "")
	if err != nil {
		t.Fatalf("Create feed: %v", err)
	}
	if _, err := jobs.GetOrCreate(ctx, f.ID); err != nil {
		t.Fatalf("GetOrCreate job: %v", err)
	}

	fetch := fetcher.NewForTesting(nil, 10*1024*1024)
	runner := failingRunner{err: errors.New("injected transaction failure")}
	w := New(jobs, feeds, posts, runner, fetch, testLogger(), clock, time.Second, 10, 5*time.Second, nil)

	w.tick(ctx)

	jb, _ := jobs.GetByFeedID(ctx, f.ID)
	if jb.State != job.StateInProgress {
		t.Fatalf("job state = %v, want in_progress (transaction never committed)", jb.State)
	}
	count, _ := posts.CountByFeedID(ctx, f.ID)
	if count != 0 {
		t.Errorf("post count = %d, want 0 (transaction never committed)", count)
	}
	got, _ := feeds.GetByID(ctx, f.ID)
	if !got.PublishedAt.IsZero() {
		t.Errorf("feed PublishedAt = %v, want unchanged (zero)", got.PublishedAt)
	}
}
