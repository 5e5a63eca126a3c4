package feed

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/adewale/feedrefresh/pkg/timeprovider"
)

// MemoryRepository is an in-memory Repository implementation for tests.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	feeds  map[int64]*Feed
	clock  timeprovider.TimeProvider
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository(clock timeprovider.TimeProvider) *MemoryRepository {
	return &MemoryRepository{feeds: make(map[int64]*Feed), clock: clock}
}

func (r *MemoryRepository) clone(f *Feed) *Feed {
	cp := *f
	return &cp
}

func (r *MemoryRepository) GetByID(ctx context.Context, id int64) (*Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(f), nil
}

func (r *MemoryRepository) GetByURL(ctx context.Context, url string) (*Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.feeds {
		if f.URL == url {
			return r.clone(f), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) Create(ctx context.Context, url, title string) (*Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.feeds {
		if f.URL == url {
			return nil, ErrAlreadyExists
		}
	}

	r.nextID++
	f := &Feed{
		ID:        r.nextID,
		URL:       url,
		Title:     title,
		CreatedAt: r.clock.Now(),
	}
	r.feeds[f.ID] = f
	return r.clone(f), nil
}

func (r *MemoryRepository) UpdateURL(ctx context.Context, id int64, newURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[id]
	if !ok {
		return ErrNotFound
	}
	f.URL = newURL
	return nil
}

func (r *MemoryRepository) UpdateContent(ctx context.Context, id int64, title string, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[id]
	if !ok {
		return ErrNotFound
	}
	f.Title = title
	f.PublishedAt = publishedAt
	return nil
}

// UpdateContentTx ignores tx: MemoryRepository has no real transaction to
// join, so it behaves exactly like UpdateContent.
func (r *MemoryRepository) UpdateContentTx(ctx context.Context, tx *sql.Tx, id int64, title string, publishedAt time.Time) error {
	return r.UpdateContent(ctx, id, title, publishedAt)
}

func (r *MemoryRepository) ListActive(ctx context.Context) ([]*Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		result = append(result, r.clone(f))
	}
	return result, nil
}
