package run

import (
	"context"
	"sort"
	"sync"

	"bookpipeline/internal/apperr"
)

type MemoryRepo struct {
	mu   sync.RWMutex
	runs map[string]Run
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{runs: make(map[string]Run)}
}

func (m *MemoryRepo) Create(ctx context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; ok {
		return apperr.Invalid("run %s already exists", r.ID)
	}
	m.runs[r.ID] = r.clone()
	return nil
}

func (m *MemoryRepo) Get(ctx context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return Run{}, apperr.NotFound("run", id)
	}
	return r.clone(), nil
}

func (m *MemoryRepo) UpdateProgress(ctx context.Context, r Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[r.ID]
	if !ok {
		return apperr.NotFound("run", r.ID)
	}
	cur.Status = r.Status
	cur.Stage = r.Stage
	cur.Nodes = r.Nodes
	cur.Tally = r.Tally
	cur.ReportedTotal = r.ReportedTotal
	cur.ElapsedSeconds = r.ElapsedSeconds
	cur.CurrentItem = r.CurrentItem
	cur.LogTail = r.LogTail
	cur.Error = r.Error
	cur.MissedPolls = r.MissedPolls
	cur.RetriedAs = r.RetriedAs
	cur.UpdatedAt = r.UpdatedAt
	m.runs[r.ID] = cur.clone()
	return nil
}

func (m *MemoryRepo) ListActive(ctx context.Context) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Run
	for _, r := range m.runs {
		if !r.Status.Terminal() {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepo) LatestForBatch(ctx context.Context, batchID string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Run
	for id := range m.runs {
		r := m.runs[id]
		if r.BatchID != batchID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = &r
		}
	}
	if latest == nil {
		return Run{}, apperr.NotFound("run for batch", batchID)
	}
	return latest.clone(), nil
}
