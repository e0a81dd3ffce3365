package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"bookpipeline/internal/apperr"
	"bookpipeline/internal/batch"
	"bookpipeline/internal/ledger"

	"golang.org/x/sync/errgroup"
)

type Outcome string

const (
	OutcomeFull    Outcome = "FULL"
	OutcomePartial Outcome = "PARTIAL"
)

type ItemFailure struct {
	ItemRef string `json:"item_ref"`
	Error   string `json:"error"`
}

// RollbackResult is the itemised result of a rollback attempt.
type RollbackResult struct {
	BatchID  string        `json:"batch_id"`
	Outcome  Outcome       `json:"outcome"`
	Reversed []string      `json:"reversed"`
	Failed   []ItemFailure `json:"failed"`
	// Batch is the batch after the attempt. A partial rollback leaves its
	// status unchanged.
	Batch batch.Batch `json:"batch"`
}

// FailedRefs lists the items that were not rolled back.
func (r RollbackResult) FailedRefs() []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.ItemRef)
	}
	return out
}

// Err returns ErrPartialRollback for a partial result and nil otherwise.
func (r RollbackResult) Err() error {
	if r.Outcome != OutcomePartial {
		return nil
	}
	return fmt.Errorf("%w: %d items not rolled back", apperr.ErrPartialRollback, len(r.Failed))
}

// RollbackEngine reverses the catalog side effects of a batch's successful
// items.
type RollbackEngine struct {
	batches  Batches
	items    ledger.Repository
	reverser Reverser
	guard    *Guard
	cfg      Config
	logger   *slog.Logger
}

func NewRollbackEngine(batches Batches, items ledger.Repository, reverser Reverser, guard *Guard, cfg Config, logger *slog.Logger) *RollbackEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RollbackEngine{
		batches:  batches,
		items:    items,
		reverser: reverser,
		guard:    guard,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "rollback"),
	}
}

// Check evaluates the rollback preconditions without side effects. Items
// lists the successful items not reversed yet.
func (e *RollbackEngine) Check(ctx context.Context, batchID string) (Precondition, error) {
	b, err := e.batches.Get(ctx, batchID)
	if err != nil {
		return Precondition{}, err
	}
	p := Precondition{Operation: OpRollback, BatchID: b.ID, BatchStatus: b.Status, Destructive: true, Items: []string{}}
	if op, busy := e.guard.Busy(batchID); busy {
		p.InProgress = op
	}

	if !finished(b) {
		return rejected(p, statusError(b, string(batch.StatusRolledBack), "only COMPLETED or FAILED batches can be rolled back")), nil
	}
	if b.SuccessBooks == 0 {
		return rejected(p, statusError(b, string(batch.StatusRolledBack), "batch has no successful books")), nil
	}
	has, err := e.items.HasDetail(ctx, b.ID)
	if err != nil {
		return Precondition{}, fmt.Errorf("check item detail: %w", err)
	}
	if !has {
		return rejected(p, notSupported("batch %s has no per-item detail", b.ID)), nil
	}
	success, err := e.items.List(ctx, b.ID, ledger.OutcomeSuccess)
	if err != nil {
		return Precondition{}, fmt.Errorf("list successful items: %w", err)
	}

	p.Allowed = true
	if refs := pendingRefs(success); refs != nil {
		p.Items = refs
	}
	return p, nil
}

// Rollback reverses every successful item not reversed yet. When all
// reversals succeed the batch becomes ROLLED_BACK; otherwise the result is
// PARTIAL, names the failed items, and the batch keeps its status.
func (e *RollbackEngine) Rollback(ctx context.Context, batchID string) (RollbackResult, error) {
	release, err := e.guard.Acquire(batchID, OpRollback)
	if err != nil {
		return RollbackResult{}, err
	}
	defer release()

	p, err := e.Check(ctx, batchID)
	if err != nil {
		return RollbackResult{}, err
	}
	if !p.Allowed {
		return RollbackResult{}, p.err
	}

	reversed, failed := e.reverseAll(ctx, p.Items)
	if len(reversed) > 0 {
		if err := e.items.MarkReversed(ctx, batchID, reversed, nowUTC()); err != nil {
			return RollbackResult{}, fmt.Errorf("mark reversed items: %w", err)
		}
	}

	res := RollbackResult{BatchID: batchID, Reversed: reversed, Failed: failed}
	if len(failed) > 0 {
		res.Outcome = OutcomePartial
		b, err := e.batches.Get(ctx, batchID)
		if err != nil {
			return RollbackResult{}, err
		}
		res.Batch = b
		e.logger.Warn("partial rollback", "batch_id", batchID, "reversed", len(reversed), "failed", len(failed))
		return res, nil
	}

	b, err := e.batches.RollBack(ctx, batchID)
	if err != nil {
		return RollbackResult{}, err
	}
	res.Outcome = OutcomeFull
	res.Batch = b
	e.logger.Info("batch rolled back", "batch_id", batchID, "reversed", len(reversed))
	return res, nil
}

func (e *RollbackEngine) reverseAll(ctx context.Context, refs []string) ([]string, []ItemFailure) {
	var (
		mu       sync.Mutex
		reversed = []string{}
		failed   = []ItemFailure{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.RollbackConcurrency)
	for _, ref := range refs {
		g.Go(func() error {
			err := e.reverser.Reverse(gctx, ref)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, ItemFailure{ItemRef: ref, Error: err.Error()})
			} else {
				reversed = append(reversed, ref)
			}
			// Item failures are collected, not propagated, so one bad item
			// does not cancel the rest.
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(reversed)
	sort.Slice(failed, func(i, j int) bool { return failed[i].ItemRef < failed[j].ItemRef })
	return reversed, failed
}
