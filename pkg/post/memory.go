package post

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/adewale/feedrefresh/pkg/timeprovider"
)

// MemoryRepository is an in-memory Repository implementation for tests.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	posts  map[int64]*Post
	clock  timeprovider.TimeProvider
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository(clock timeprovider.TimeProvider) *MemoryRepository {
	return &MemoryRepository{posts: make(map[int64]*Post), clock: clock}
}

func (r *MemoryRepository) Create(ctx context.Context, p *Post) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.posts {
		if existing.FeedID == p.FeedID && existing.GUID == p.GUID {
			return false, nil
		}
	}

	r.nextID++
	stored := *p
	stored.ID = r.nextID
	stored.CreatedAt = r.clock.Now()
	r.posts[stored.ID] = &stored
	*p = stored
	return true, nil
}

func (r *MemoryRepository) CreateMany(ctx context.Context, posts []*Post) ([]*Post, error) {
	var inserted []*Post
	for _, p := range posts {
		created, err := r.Create(ctx, p)
		if err != nil {
			return nil, err
		}
		if created {
			cp := *p
			inserted = append(inserted, &cp)
		}
	}
	return inserted, nil
}

// CreateManyTx ignores tx: MemoryRepository has no real transaction to
// join, so it behaves exactly like CreateMany.
func (r *MemoryRepository) CreateManyTx(ctx context.Context, tx *sql.Tx, posts []*Post) ([]*Post, error) {
	return r.CreateMany(ctx, posts)
}

func (r *MemoryRepository) ListByFeedID(ctx context.Context, feedID int64, limit int) ([]*Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*Post
	for _, p := range r.posts {
		if p.FeedID == feedID {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PublishedAt.After(result[j].PublishedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) CountByFeedID(ctx context.Context, feedID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, p := range r.posts {
		if p.FeedID == feedID {
			count++
		}
	}
	return count, nil
}
