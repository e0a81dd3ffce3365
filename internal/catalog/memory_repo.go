package catalog

import (
	"context"
	"sync"
	"time"

	"bookpipeline/internal/apperr"
)

type MemoryRepo struct {
	mu      sync.RWMutex
	books   map[string]Book
	sources map[string][]Source
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{books: make(map[string]Book), sources: make(map[string][]Source)}
}

func (r *MemoryRepo) Publish(ctx context.Context, b *Book, provider string, rawJSON []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	b.Published = true
	b.UpdatedAt = now
	r.books[b.ItemRef] = *b

	srcs := r.sources[b.ItemRef][:0]
	for _, s := range r.sources[b.ItemRef] {
		if s.Provider != provider {
			srcs = append(srcs, s)
		}
	}
	r.sources[b.ItemRef] = append(srcs, Source{EntityKey: b.ItemRef, Provider: provider, RawJSON: rawJSON, FetchedAt: now})
	return nil
}

func (r *MemoryRepo) Unpublish(ctx context.Context, itemRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[itemRef]
	if !ok {
		return apperr.NotFound("catalog book", itemRef)
	}
	b.Published = false
	b.UpdatedAt = time.Now().UTC()
	r.books[itemRef] = b
	delete(r.sources, itemRef)
	return nil
}

func (r *MemoryRepo) GetByRef(ctx context.Context, itemRef string) (Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[itemRef]
	if !ok {
		return Book{}, apperr.NotFound("catalog book", itemRef)
	}
	return b, nil
}
