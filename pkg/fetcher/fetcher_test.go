package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testRSS = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
<title>Example Feed</title>
<item>
<title>A</title>
<link>https://example.com/a</link>
<guid>a</guid>
<pubDate>Wed, 30 Aug 2023 10:02:26 GMT</pubDate>
</item>
</channel>
</rss>`

func TestFetchBatchHappyFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testRSS))
	}))
	defer server.Close()

	f := NewForTesting(nil, 10*1024*1024)
	requests := []Request{{RequestID: "r1", URL: server.URL}}

	results := f.FetchBatch(context.Background(), requests, 5*time.Second)

	result, ok := results["r1"]
	if !ok {
		t.Fatal("missing result for request id r1")
	}
	if result.Err != nil {
		t.Fatalf("Err = %v, want nil", result.Err)
	}
	if result.Content.Title != "Example Feed" {
		t.Errorf("Title = %q, want %q", result.Content.Title, "Example Feed")
	}
}

func TestFetchBatchSizeLimitYieldsFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	f := NewForTesting(nil, 1024)
	requests := []Request{{RequestID: "r1", URL: server.URL}}

	results := f.FetchBatch(context.Background(), requests, 5*time.Second)

	result := results["r1"]
	var fetchErr *FetchError
	if result.Err == nil {
		t.Fatal("Err = nil, want FetchError for oversized body")
	}
	if !asFetchError(result.Err, &fetchErr) {
		t.Errorf("error = %v, want *FetchError", result.Err)
	}
}

func TestFetchBatchHTTPErrorStatusYieldsFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewForTesting(nil, 10*1024*1024)
	requests := []Request{{RequestID: "r1", URL: server.URL}}

	results := f.FetchBatch(context.Background(), requests, 5*time.Second)

	if results["r1"].Err == nil {
		t.Fatal("Err = nil, want FetchError for 500 response")
	}
}

func TestFetchBatchDoesNotStarveOnSlowURL(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(testRSS))
	}))
	defer slow.Close()
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testRSS))
	}))
	defer fast.Close()

	f := NewForTesting(nil, 10*1024*1024)
	requests := []Request{
		{RequestID: "slow", URL: slow.URL},
		{RequestID: "fast", URL: fast.URL},
	}

	results := f.FetchBatch(context.Background(), requests, 5*time.Second)

	if results["slow"].Err != nil || results["fast"].Err != nil {
		t.Fatalf("both requests should succeed, got %+v", results)
	}
}

func TestValidateURLRejectsPrivateIP(t *testing.T) {
	if err := ValidateURL("http://127.0.0.1/feed.xml"); err != ErrPrivateIP {
		t.Errorf("ValidateURL() error = %v, want ErrPrivateIP", err)
	}
}

func TestValidateURLRejectsNonHTTPScheme(t *testing.T) {
	if err := ValidateURL("ftp://example.com/feed.xml"); err != ErrInvalidScheme {
		t.Errorf("ValidateURL() error = %v, want ErrInvalidScheme", err)
	}
}

func asFetchError(err error, target **FetchError) bool {
	fe, ok := err.(*FetchError)
	if ok {
		*target = fe
	}
	return ok
}
