package recovery

import (
	"context"
	"fmt"
	"time"

	"bookpipeline/internal/apperr"
	"bookpipeline/internal/batch"
	"bookpipeline/internal/ledger"
	"bookpipeline/internal/run"
)

const (
	OpResume   = "resume"
	OpRollback = "rollback"
)

// Precondition tells a caller up front whether an operation would be
// accepted and what it would touch.
type Precondition struct {
	Operation   string       `json:"operation"`
	BatchID     string       `json:"batch_id"`
	BatchStatus batch.Status `json:"batch_status"`
	Allowed     bool         `json:"allowed"`
	Reason      string       `json:"reason,omitempty"`
	Destructive bool         `json:"destructive"`
	// Items are the refs the operation would act on.
	Items []string `json:"items"`
	// InProgress is set while another resume or rollback holds the batch.
	InProgress string `json:"in_progress,omitempty"`

	err error
}

// Batches is the import batch registry.
type Batches interface {
	Get(ctx context.Context, id string) (batch.Batch, error)
	RollBack(ctx context.Context, id string) (batch.Batch, error)
}

// Runs submits runs and looks up the run that produced a batch.
type Runs interface {
	Submit(ctx context.Context, req run.SubmitRequest) (run.Run, error)
}

type RunLookup interface {
	LatestForBatch(ctx context.Context, batchID string) (run.Run, error)
}

// Reverser undoes the persisted side effect of one imported item.
type Reverser interface {
	Reverse(ctx context.Context, itemRef string) error
}

type Config struct {
	// RollbackConcurrency bounds parallel item reversals.
	RollbackConcurrency int
}

func (c Config) withDefaults() Config {
	if c.RollbackConcurrency <= 0 {
		c.RollbackConcurrency = 8
	}
	return c
}

func rejected(p Precondition, err error) Precondition {
	p.Allowed = false
	p.Reason = err.Error()
	p.err = err
	return p
}

func statusError(b batch.Batch, op, reason string) error {
	return apperr.TransitionBecause("batch", b.ID, string(b.Status), op, reason)
}

func finished(b batch.Batch) bool {
	return b.Status.Finished()
}

func notSupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperr.ErrResumeNotSupported, fmt.Sprintf(format, args...))
}

func pendingRefs(items []ledger.Item) []string {
	var out []string
	for _, it := range items {
		if !it.Reversed() {
			out = append(out, it.ItemRef)
		}
	}
	return out
}

var nowUTC = func() time.Time { return time.Now().UTC() }
