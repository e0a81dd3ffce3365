package ledger

import (
	"context"
	"time"
)

// Repository is the item-level ledger. Record is an upsert keyed by
// (BatchID, ItemRef) so replayed executor snapshots do not duplicate items.
type Repository interface {
	Record(ctx context.Context, items []Item) error
	// List returns the items of a batch, filtered by outcome when it is non-empty.
	List(ctx context.Context, batchID string, outcome Outcome) ([]Item, error)
	MarkReversed(ctx context.Context, batchID string, refs []string, at time.Time) error
	// HasDetail reports whether any item was ever recorded for the batch.
	HasDetail(ctx context.Context, batchID string) (bool, error)
}
