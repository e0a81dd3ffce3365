package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"bookpipeline/internal/apperr"
)

type MemoryRepo struct {
	mu      sync.RWMutex
	batches map[string]map[string]Item
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{batches: make(map[string]map[string]Item)}
}

func (r *MemoryRepo) Record(ctx context.Context, items []Item) error {
	for _, it := range items {
		if !it.Outcome.Valid() {
			return apperr.Invalid("item %s: unknown outcome %q", it.ItemRef, it.Outcome)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		byRef, ok := r.batches[it.BatchID]
		if !ok {
			byRef = make(map[string]Item)
			r.batches[it.BatchID] = byRef
		}
		if prev, ok := byRef[it.ItemRef]; ok {
			it.ReversedAt = prev.ReversedAt
		}
		if it.RecordedAt.IsZero() {
			it.RecordedAt = time.Now().UTC()
		}
		byRef[it.ItemRef] = it
	}
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, batchID string, outcome Outcome) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Item
	for _, it := range r.batches[batchID] {
		if outcome != "" && it.Outcome != outcome {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemRef < out[j].ItemRef })
	return out, nil
}

func (r *MemoryRepo) MarkReversed(ctx context.Context, batchID string, refs []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byRef := r.batches[batchID]
	for _, ref := range refs {
		it, ok := byRef[ref]
		if !ok {
			return apperr.NotFound("batch item", batchID+"/"+ref)
		}
		if it.ReversedAt != nil {
			continue
		}
		t := at
		it.ReversedAt = &t
		byRef[ref] = it
	}
	return nil
}

func (r *MemoryRepo) HasDetail(ctx context.Context, batchID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.batches[batchID]) > 0, nil
}
