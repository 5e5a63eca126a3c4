// Package feedparser converts downloaded RSS/Atom bytes into the
// normalized shape the worker persists.
package feedparser

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

// Item is a single entry surviving validation and watermark filtering.
type Item struct {
	GUID        string
	Title       string
	URL         string
	Summary     string
	PublishedAt time.Time
}

// FeedContentResult is the normalized output of a successful parse.
type FeedContentResult struct {
	Title string
	// PublishedAt is the newest surviving item's PublishedAt, or nil if
	// no item survived required-field validation and the watermark filter.
	PublishedAt *time.Time
	Items       []Item
}

// ParseError wraps a parse failure: invalid XML, a missing channel
// element, or an empty channel title.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse feed %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var sanitizer = bluemonday.StrictPolicy()

// Parse parses body as an RSS or Atom document fetched from feedURL.
// Items with PublishedAt before ignoreBefore (the feed's stored
// watermark) are dropped. Per-item failures are dropped silently rather
// than failing the whole feed; only invalid XML, a missing channel or an
// empty title fails the parse outright.
func Parse(body []byte, feedURL string, ignoreBefore time.Time) (*FeedContentResult, error) {
	fp := gofeed.NewParser()
	parsed, err := fp.ParseString(string(body))
	if err != nil {
		return nil, &ParseError{URL: feedURL, Err: err}
	}
	if parsed == nil {
		return nil, &ParseError{URL: feedURL, Err: errors.New("missing channel element")}
	}

	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		return nil, &ParseError{URL: feedURL, Err: errors.New("empty channel title")}
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		item, ok := normalizeItem(entry)
		if !ok {
			continue
		}
		if item.PublishedAt.Before(ignoreBefore) {
			continue
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].PublishedAt.Before(items[j].PublishedAt) })

	result := &FeedContentResult{Title: title, Items: items}
	if len(items) > 0 {
		newest := items[len(items)-1].PublishedAt
		result.PublishedAt = &newest
	}
	return result, nil
}

// normalizeItem validates and sanitizes a single gofeed item. An item
// requires a parseable published date, a non-empty title, and a URL;
// guid defaults to the item's link if absent. Returns ok=false for an
// item that fails these requirements, to be dropped rather than
// failing the whole feed.
func normalizeItem(entry *gofeed.Item) (Item, bool) {
	if entry == nil {
		return Item{}, false
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		return Item{}, false
	}

	link := strings.TrimSpace(entry.Link)
	if link == "" {
		return Item{}, false
	}

	published := extractPublished(entry)
	if published == nil {
		return Item{}, false
	}

	guid := strings.TrimSpace(entry.GUID)
	if guid == "" {
		guid = link
	}

	summary := entry.Description
	if summary == "" && entry.Content != "" {
		summary = entry.Content
	}
	summary = sanitizer.Sanitize(summary)

	return Item{
		GUID:        guid,
		Title:       title,
		URL:         link,
		Summary:     summary,
		PublishedAt: *published,
	}, true
}

func extractPublished(entry *gofeed.Item) *time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed
	}
	return nil
}
