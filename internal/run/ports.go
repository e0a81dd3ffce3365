package run

import (
	"context"

	"bookpipeline/internal/batch"
	"bookpipeline/internal/executor"
	"bookpipeline/internal/ledger"
)

// Repository persists runs. UpdateProgress writes only the mutable
// tracking fields of a run.
type Repository interface {
	Create(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (Run, error)
	UpdateProgress(ctx context.Context, r Run) error
	ListActive(ctx context.Context) ([]Run, error)
	// LatestForBatch returns the most recently created run of a batch.
	LatestForBatch(ctx context.Context, batchID string) (Run, error)
}

// Dispatcher is the executor router.
type Dispatcher interface {
	Dispatch(ctx context.Context, req executor.DispatchRequest) (executor.Dispatch, error)
	Status(ctx context.Context, kind executor.Kind, runID, handle string) (executor.Status, error)
	Stop(ctx context.Context, kind executor.Kind, runID, handle string) error
}

// Batches is the import batch registry.
type Batches interface {
	Create(ctx context.Context, nb batch.NewBatch) (batch.Batch, error)
	Start(ctx context.Context, id string) (batch.Batch, error)
	Complete(ctx context.Context, id string) (batch.Batch, error)
	Fail(ctx context.Context, id, reason string) (batch.Batch, error)
	Cancel(ctx context.Context, id, reason string) (batch.Batch, error)
	ApplyCounts(ctx context.Context, id string, c batch.Counts) (batch.Batch, error)
}

// ItemRecorder stores per-item outcomes reported by executors.
type ItemRecorder interface {
	Record(ctx context.Context, items []ledger.Item) error
}
