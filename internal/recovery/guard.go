package recovery

import (
	"fmt"
	"sync"

	"bookpipeline/internal/apperr"
)

// Guard admits at most one resume or rollback per batch at a time. A second
// caller is turned away instead of queued.
type Guard struct {
	mu       sync.Mutex
	inflight map[string]string
}

func NewGuard() *Guard {
	return &Guard{inflight: make(map[string]string)}
}

// Acquire claims batchID for op and returns the release func.
func (g *Guard) Acquire(batchID, op string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if running, busy := g.inflight[batchID]; busy {
		return nil, fmt.Errorf("%w: %s already running for batch %s", apperr.ErrOperationInProgress, running, batchID)
	}
	g.inflight[batchID] = op
	return func() {
		g.mu.Lock()
		delete(g.inflight, batchID)
		g.mu.Unlock()
	}, nil
}

// Busy reports the operation holding batchID, if any.
func (g *Guard) Busy(batchID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	op, ok := g.inflight[batchID]
	return op, ok
}
