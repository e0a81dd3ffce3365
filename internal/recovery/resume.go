package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"bookpipeline/internal/batch"
	"bookpipeline/internal/executor"
	"bookpipeline/internal/ledger"
	"bookpipeline/internal/run"
)

// ResumeEngine re-runs exactly the failed items of a finished batch as a
// new run in the batch's original environment.
type ResumeEngine struct {
	batches Batches
	items   ledger.Repository
	runs    Runs
	lookup  RunLookup
	guard   *Guard
	logger  *slog.Logger
}

func NewResumeEngine(batches Batches, items ledger.Repository, runs Runs, lookup RunLookup, guard *Guard, logger *slog.Logger) *ResumeEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeEngine{
		batches: batches,
		items:   items,
		runs:    runs,
		lookup:  lookup,
		guard:   guard,
		logger:  logger.With("component", "resume"),
	}
}

// ResumeResult links the new run to the batch it resumes.
type ResumeResult struct {
	Run          run.Run  `json:"run"`
	ResumedBatch string   `json:"resumed_batch"`
	ResumedItems []string `json:"resumed_items"`
	ChildBatchID string   `json:"child_batch_id"`
}

// Check evaluates the resume preconditions without side effects.
func (e *ResumeEngine) Check(ctx context.Context, batchID string) (Precondition, error) {
	b, err := e.batches.Get(ctx, batchID)
	if err != nil {
		return Precondition{}, err
	}
	p := Precondition{Operation: OpResume, BatchID: b.ID, BatchStatus: b.Status, Items: []string{}}
	if op, busy := e.guard.Busy(batchID); busy {
		p.InProgress = op
	}

	if !finished(b) {
		return rejected(p, statusError(b, OpResume, "only COMPLETED or FAILED batches can be resumed")), nil
	}
	if b.FailedBooks == 0 {
		return rejected(p, statusError(b, OpResume, "batch has no failed books")), nil
	}
	has, err := e.items.HasDetail(ctx, b.ID)
	if err != nil {
		return Precondition{}, fmt.Errorf("check item detail: %w", err)
	}
	if !has {
		return rejected(p, notSupported("batch %s has no per-item detail", b.ID)), nil
	}
	failed, err := e.items.List(ctx, b.ID, ledger.OutcomeFailed)
	if err != nil {
		return Precondition{}, fmt.Errorf("list failed items: %w", err)
	}
	if len(failed) == 0 {
		return rejected(p, notSupported("batch %s reports %d failed books but none are itemised", b.ID, b.FailedBooks)), nil
	}

	p.Allowed = true
	p.Items = ledger.Refs(failed)
	return p, nil
}

// Resume submits a run scoped to the failed items of batchID.
func (e *ResumeEngine) Resume(ctx context.Context, batchID, createdBy string) (ResumeResult, error) {
	release, err := e.guard.Acquire(batchID, OpResume)
	if err != nil {
		return ResumeResult{}, err
	}
	defer release()

	p, err := e.Check(ctx, batchID)
	if err != nil {
		return ResumeResult{}, err
	}
	if !p.Allowed {
		return ResumeResult{}, p.err
	}

	b, err := e.batches.Get(ctx, batchID)
	if err != nil {
		return ResumeResult{}, err
	}
	booklist := "batch:" + b.ID
	if orig, err := e.lookup.LatestForBatch(ctx, b.ID); err == nil {
		booklist = orig.BooklistRef
	}

	r, err := e.runs.Submit(ctx, run.SubmitRequest{
		Environment: environmentOf(b),
		Source:      b.Source,
		BooklistRef: booklist,
		CreatedBy:   createdBy,
		Notes:       fmt.Sprintf("resume of batch %s (%d failed books)", b.ID, len(p.Items)),
		Items:       p.Items,
		ResumedFrom: b.ID,
	})
	if err != nil {
		return ResumeResult{}, err
	}

	e.logger.Info("batch resumed", "batch_id", b.ID, "run_id", r.ID, "child_batch_id", r.BatchID, "items", len(p.Items))
	return ResumeResult{Run: r, ResumedBatch: b.ID, ResumedItems: p.Items, ChildBatchID: r.BatchID}, nil
}

func environmentOf(b batch.Batch) executor.Environment {
	return executor.Environment(b.Environment)
}
