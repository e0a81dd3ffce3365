package batch

//go:generate mockgen -source=ports.go -destination=mock_repository.go -package=batch

import (
	"context"
	"errors"
	"time"
)

// ErrStatusConflict is returned by UpdateStatus when the stored status is no
// longer the expected one.
var ErrStatusConflict = errors.New("batch status changed concurrently")

// Repository defines the contract for batch storage. Updates are partial:
// status changes and counter snapshots never replace the whole record.
type Repository interface {
	Create(ctx context.Context, b *Batch) error
	Get(ctx context.Context, id string) (Batch, error)
	List(ctx context.Context, q Query) ([]Batch, int, error)
	// CreatedSince returns every batch created at or after since; a zero
	// since returns all batches.
	CreatedSince(ctx context.Context, since time.Time) ([]Batch, error)
	// Live returns every PENDING or RUNNING batch regardless of age, plus
	// any other batch created at or after since.
	Live(ctx context.Context, since time.Time) ([]Batch, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, u StatusUpdate) error
	UpdateCounts(ctx context.Context, id string, c Counts) error
}
