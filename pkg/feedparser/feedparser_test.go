package feedparser

import (
	"testing"
	"time"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
<title>Example Feed</title>
<link>https://example.com</link>
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

func TestParseHappyFetchOrdersAscendingAndSetsWatermark(t *testing.T) {
	result, err := Parse([]byte(sampleRSS), "https://example.com/feed.xml", time.Time{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(result.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(result.Items))
	}
	if result.Items[0].GUID != "a" || result.Items[2].GUID != "c" {
		t.Errorf("items not sorted ascending by published_at: %+v", result.Items)
	}
	want := time.Date(2023, 8, 30, 12, 29, 25, 0, time.UTC)
	if result.PublishedAt == nil || !result.PublishedAt.Equal(want) {
		t.Errorf("PublishedAt = %v, want %v", result.PublishedAt, want)
	}
}

func TestParseWatermarkFiltersOlderItems(t *testing.T) {
	ignoreBefore := time.Date(2023, 8, 30, 10, 10, 0, 0, time.UTC)
	result, err := Parse([]byte(sampleRSS), "https://example.com/feed.xml", ignoreBefore)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2 (A filtered by watermark)", len(result.Items))
	}
	if result.Items[0].GUID != "b" {
		t.Errorf("first surviving item = %q, want %q", result.Items[0].GUID, "b")
	}
}

func TestParseRejectsEmptyChannelTitle(t *testing.T) {
	const body = `<?xml version="1.0"?><rss version="2.0"><channel><title></title></channel></rss>`
	if _, err := Parse([]byte(body), "https://example.com/feed.xml", time.Time{}); err == nil {
		t.Fatal("Parse() error = nil, want ParseError for empty channel title")
	}
}

func TestParseRejectsInvalidXML(t *testing.T) {
	if _, err := Parse([]byte("not xml at all"), "https://example.com/feed.xml", time.Time{}); err == nil {
		t.Fatal("Parse() error = nil, want ParseError for invalid XML")
	}
}

func TestParseDropsItemsMissingRequiredFields(t *testing.T) {
	const body = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
<title>Example</title>
<item><title>No date or link</title></item>
<item>
<title>Valid</title>
<link>https://example.com/valid</link>
<pubDate>Wed, 30 Aug 2023 10:02:26 GMT</pubDate>
</item>
</channel>
</rss>`
	result, err := Parse([]byte(body), "https://example.com/feed.xml", time.Time{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("len(Items) = %d, want 1 (invalid item dropped, not fatal)", len(result.Items))
	}
}

func TestParseDefaultsGUIDToLink(t *testing.T) {
	const body = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
<title>Example</title>
<item>
<title>No guid</title>
<link>https://example.com/no-guid</link>
<pubDate>Wed, 30 Aug 2023 10:02:26 GMT</pubDate>
</item>
</channel>
</rss>`
	result, err := Parse([]byte(body), "https://example.com/feed.xml", time.Time{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].GUID != "https://example.com/no-guid" {
		t.Fatalf("GUID = %v, want link fallback", result.Items)
	}
}
