// Package fetcher downloads a batch of feed URLs concurrently, enforcing
// per-batch timeout, a streamed body-size cap, and SSRF prevention, and
// hands surviving bytes to the feed parser.
package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/adewale/feedrefresh/pkg/feedparser"
	"github.com/adewale/feedrefresh/pkg/ratelimit"
	"github.com/google/uuid"
)

const (
	// UserAgent identifies the aggregator to origin servers.
	UserAgent = "FeedRefresh/1.0 (+https://github.com/adewale/feedrefresh)"
	// MaxRedirects prevents redirect loops.
	MaxRedirects = 5
)

var (
	ErrInvalidURL    = errors.New("invalid URL")
	ErrPrivateIP     = errors.New("private or internal IP not allowed")
	ErrInvalidScheme = errors.New("only http and https schemes allowed")
)

// FetchError wraps a transport, HTTP-status, or size-limit failure.
// RetryAfter and PermanentRedirect survive a failed fetch too: a feed can
// 301 to a new host and then answer 429 there, and the worker still wants
// to migrate the stored URL even though the fetch itself didn't succeed.
type FetchError struct {
	URL               string
	Err               error
	RetryAfter        time.Duration
	PermanentRedirect bool
	FinalURL          string
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// Request describes one feed to fetch within a batch.
type Request struct {
	RequestID      string
	URL            string
	PublishedSince time.Time
}

// Result is the outcome of fetching and parsing a single Request. Exactly
// one of Content or Err is set. PermanentRedirect/FinalURL report a 301/308
// the request followed on its way to the final response, independent of
// fetch success.
type Result struct {
	Content           *feedparser.FeedContentResult
	Err               error
	PermanentRedirect bool
	FinalURL          string
}

// Fetcher fetches batches of feeds concurrently with a shared HTTP client.
type Fetcher struct {
	transport   *http.Transport
	userAgent   string
	rateLimiter *ratelimit.Manager
	maxBodySize int64

	skipSSRFCheck bool
}

// New creates a Fetcher with pooled connections, matching the teacher's
// transport tuning for feed-fetching workloads. Each call to download
// builds its own *http.Client sharing this Transport, so the pooled
// connections are reused across the batch while each request gets its own
// CheckRedirect closure to track whether it crossed a permanent redirect.
func New(rateLimiter *ratelimit.Manager, maxBodySize int64) *Fetcher {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Fetcher{
		transport:   transport,
		userAgent:   UserAgent,
		rateLimiter: rateLimiter,
		maxBodySize: maxBodySize,
	}
}

// NewForTesting creates a Fetcher that allows local/private URLs, for use
// against httptest servers.
func NewForTesting(rateLimiter *ratelimit.Manager, maxBodySize int64) *Fetcher {
	f := New(rateLimiter, maxBodySize)
	f.skipSSRFCheck = true
	return f
}

// FetchBatch fetches every request concurrently under a shared wall-clock
// timeout and returns one Result per request_id. No request starves the
// others: every request runs in its own goroutine under one shared context
// derived from timeout, so a slow or hanging URL is cut off at the deadline
// and cannot block delivery of the rest of the batch.
func (f *Fetcher) FetchBatch(ctx context.Context, requests []Request, timeout time.Duration) map[string]Result {
	results := make(map[string]Result, len(requests))
	var mu sync.Mutex
	var wg sync.WaitGroup

	batchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, req := range requests {
		req := req
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := f.fetchOne(batchCtx, req)
			mu.Lock()
			results[req.RequestID] = result
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, req Request) Result {
	if !f.skipSSRFCheck {
		if err := ValidateURL(req.URL); err != nil {
			return Result{Err: err}
		}
	}

	if f.rateLimiter != nil {
		if err := f.rateLimiter.Wait(ctx, req.URL); err != nil {
			return Result{Err: &FetchError{URL: req.URL, Err: err}}
		}
	}

	dl := f.download(ctx, req.URL)
	if dl.err != nil {
		return Result{Err: dl.err, PermanentRedirect: dl.permanentRedirect, FinalURL: dl.finalURL}
	}

	content, err := feedparser.Parse(dl.body, req.URL, req.PublishedSince)
	if err != nil {
		return Result{Err: err, PermanentRedirect: dl.permanentRedirect, FinalURL: dl.finalURL}
	}
	return Result{Content: content, PermanentRedirect: dl.permanentRedirect, FinalURL: dl.finalURL}
}

// downloadResult carries the redirect trail alongside the body or error so
// callers can migrate a feed's stored URL even when the fetch itself
// ultimately failed past the redirect.
type downloadResult struct {
	body              []byte
	finalURL          string
	permanentRedirect bool
	err               error
}

func (f *Fetcher) download(ctx context.Context, feedURL string) downloadResult {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return downloadResult{err: &FetchError{URL: feedURL, Err: err}}
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept-Encoding", "gzip")

	// A fresh client per call (sharing the pooled Transport) so the
	// permanent-redirect flag captured by CheckRedirect belongs to this
	// request alone, safe for concurrent calls within a batch.
	var sawPermanentRedirect bool
	client := &http.Client{
		Transport: f.transport,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", MaxRedirects)
			}
			if r.Response != nil && (r.Response.StatusCode == http.StatusMovedPermanently ||
				r.Response.StatusCode == http.StatusPermanentRedirect) {
				sawPermanentRedirect = true
			}
			return nil
		},
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return downloadResult{err: &FetchError{URL: feedURL, Err: err}, permanentRedirect: sawPermanentRedirect}
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()

	if resp.StatusCode >= 400 {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return downloadResult{
			finalURL:          finalURL,
			permanentRedirect: sawPermanentRedirect,
			err: &FetchError{
				URL:               feedURL,
				Err:               fmt.Errorf("unexpected status code: %d", resp.StatusCode),
				RetryAfter:        retryAfter,
				PermanentRedirect: sawPermanentRedirect,
				FinalURL:          finalURL,
			},
		}
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return downloadResult{
				finalURL:          finalURL,
				permanentRedirect: sawPermanentRedirect,
				err:               &FetchError{URL: feedURL, Err: fmt.Errorf("create gzip reader: %w", err)},
			}
		}
		defer gzReader.Close()
		reader = gzReader
	}

	limited := &io.LimitedReader{R: reader, N: f.maxBodySize + 1}
	body, err := io.ReadAll(limited)
	if err != nil {
		return downloadResult{
			finalURL:          finalURL,
			permanentRedirect: sawPermanentRedirect,
			err:               &FetchError{URL: feedURL, Err: fmt.Errorf("read body: %w", err)},
		}
	}
	if int64(len(body)) > f.maxBodySize {
		return downloadResult{
			finalURL:          finalURL,
			permanentRedirect: sawPermanentRedirect,
			err:               &FetchError{URL: feedURL, Err: fmt.Errorf("response body exceeds maximum size of %d bytes", f.maxBodySize)},
		}
	}

	return downloadResult{body: body, finalURL: finalURL, permanentRedirect: sawPermanentRedirect}
}

// parseRetryAfter parses RFC 7231's Retry-After header, either delay-seconds
// or an HTTP-date, returning 0 if absent or unparseable.
func parseRetryAfter(headerValue string) time.Duration {
	if headerValue == "" {
		return 0
	}
	if seconds := parseRetryAfterSeconds(headerValue); seconds > 0 {
		return seconds
	}
	if httpDate, err := http.ParseTime(headerValue); err == nil {
		if delay := time.Until(httpDate); delay > 0 {
			return delay
		}
	}
	return 0
}

func parseRetryAfterSeconds(value string) time.Duration {
	value = strings.TrimSpace(value)
	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err != nil || seconds <= 0 || seconds > 86400 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// NewRequestID generates a correlation id for one fetch request within a
// batch.
func NewRequestID() string {
	return uuid.NewString()
}

// ValidateURL checks a URL is safe to fetch, blocking internal/private
// targets to prevent server-side request forgery.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme == "" {
		return ErrInvalidURL
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidScheme
	}

	host := parsed.Hostname()
	internalHosts := []string{"localhost", "127.0.0.1", "::1", "0.0.0.0"}
	for _, blocked := range internalHosts {
		if strings.EqualFold(host, blocked) {
			return ErrPrivateIP
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return ErrPrivateIP
		}
	}

	return nil
}
