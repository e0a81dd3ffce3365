package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"bookpipeline/internal/apperr"
)

// MemoryRepo keeps batches in process memory. It backs local development
// and tests.
type MemoryRepo struct {
	mu      sync.RWMutex
	batches map[string]Batch
	now     func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{batches: make(map[string]Batch), now: time.Now}
}

func (r *MemoryRepo) Create(ctx context.Context, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.batches[b.ID]; exists {
		return apperr.Invalid("batch %s already exists", b.ID)
	}
	r.batches[b.ID] = *b
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[id]
	if !ok {
		return Batch{}, apperr.NotFound("batch", id)
	}
	return b, nil
}

func (r *MemoryRepo) List(ctx context.Context, q Query) ([]Batch, int, error) {
	r.mu.RLock()
	var matched []Batch
	for _, b := range r.batches {
		if q.Status != "" && b.Status != q.Status {
			continue
		}
		if q.Source != "" && b.Source != q.Source {
			continue
		}
		if q.Environment != "" && b.Environment != q.Environment {
			continue
		}
		if q.CreatedBy != "" && b.CreatedBy != q.CreatedBy {
			continue
		}
		matched = append(matched, b)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(q.Offset, total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}
	return matched[start:end], total, nil
}

func (r *MemoryRepo) CreatedSince(ctx context.Context, since time.Time) ([]Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Batch, 0, len(r.batches))
	for _, b := range r.batches {
		if !since.IsZero() && b.CreatedAt.Before(since) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *MemoryRepo) Live(ctx context.Context, since time.Time) ([]Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Batch
	for _, b := range r.batches {
		if b.Status == StatusPending || b.Status == StatusRunning || !b.CreatedAt.Before(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, id string, from, to Status, u StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return apperr.NotFound("batch", id)
	}
	if b.Status != from {
		return ErrStatusConflict
	}
	b.Status = to
	if u.StartedAt != nil {
		b.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		b.CompletedAt = u.CompletedAt
	}
	b.Notes = appendNote(b.Notes, u.Note)
	b.UpdatedAt = r.now().UTC()
	r.batches[id] = b
	return nil
}

func (r *MemoryRepo) UpdateCounts(ctx context.Context, id string, c Counts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return apperr.NotFound("batch", id)
	}
	b.setCounts(c)
	b.UpdatedAt = r.now().UTC()
	r.batches[id] = b
	return nil
}
