package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"bookpipeline/internal/apperr"
	"bookpipeline/internal/batch"
	"bookpipeline/internal/executor"
	"bookpipeline/internal/ledger"
	"bookpipeline/internal/platform/keylock"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Progress is what the coordinator reports to observers after applying a
// snapshot. Counters are cumulative for the run.
type Progress struct {
	RunID          string
	BatchID        string
	At             time.Time
	Processed      int
	Success        int
	Failed         int
	Skipped        int
	Duplicates     int
	ElapsedSeconds float64
	Terminal       bool
}

type ProgressObserver interface {
	ObserveProgress(p Progress)
}

// Cancel semantics reported to callers.
const (
	SemanticsTrackingOnly  = "tracking_only"
	SemanticsStopRequested = "stop_requested"
)

// CancelResult tells the caller what a cancel actually did. ProcessStopped
// is only ever true for Abort.
type CancelResult struct {
	Run            Run    `json:"run"`
	ProcessStopped bool   `json:"process_stopped"`
	Semantics      string `json:"semantics"`
	StopError      string `json:"stop_error,omitempty"`
}

type SubmitRequest struct {
	Environment executor.Environment
	Source      batch.Source
	BooklistRef string
	CreatedBy   string
	Notes       string
	// Items scopes the run to a subset of the booklist.
	Items []string
	// ResumedFrom links a resume run and its child batch to the original batch.
	ResumedFrom string
}

type Config struct {
	// MissLimit is the number of consecutive polls the executor may not know
	// a run before it is declared not_found.
	MissLimit            int
	ReconcileConcurrency int
	// Callbacks mints the token handed to executors for node progress
	// reports. Nil dispatches without one.
	Callbacks CallbackIssuer
}

type CallbackIssuer interface {
	Issue(batchID string) (string, error)
}

// Coordinator owns the run state machine. Every mutation of a run happens
// under that run's lock; batch mutations go through the batch registry.
type Coordinator struct {
	repo     Repository
	exec     Dispatcher
	batches  Batches
	items    ItemRecorder
	observer atomic.Pointer[observerBox]
	locks    *keylock.Map
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

type observerBox struct{ o ProgressObserver }

func NewCoordinator(repo Repository, exec Dispatcher, batches Batches, items ItemRecorder, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.MissLimit <= 0 {
		cfg.MissLimit = 3
	}
	if cfg.ReconcileConcurrency <= 0 {
		cfg.ReconcileConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		repo:    repo,
		exec:    exec,
		batches: batches,
		items:   items,
		locks:   keylock.New(),
		cfg:     cfg,
		logger:  logger.With("component", "run"),
		now:     time.Now,
	}
}

// SetObserver registers the observer notified after every applied snapshot.
func (c *Coordinator) SetObserver(o ProgressObserver) {
	c.observer.Store(&observerBox{o: o})
}

// Submit dispatches a new run and, once the executor accepted it, records
// the run and its RUNNING batch. A dispatch failure leaves nothing behind.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (Run, error) {
	if !req.Environment.Valid() {
		return Run{}, apperr.Invalid("unknown environment %q", req.Environment)
	}
	if !req.Source.Valid() {
		return Run{}, apperr.Invalid("unknown source %q", req.Source)
	}
	if req.BooklistRef == "" {
		return Run{}, apperr.Invalid("booklist ref is required")
	}

	batchID := uuid.NewString()
	var token string
	if c.cfg.Callbacks != nil {
		var err error
		if token, err = c.cfg.Callbacks.Issue(batchID); err != nil {
			return Run{}, fmt.Errorf("issue callback token: %w", err)
		}
	}
	d, err := c.exec.Dispatch(ctx, executor.DispatchRequest{
		Environment:   req.Environment,
		BatchID:       batchID,
		Source:        string(req.Source),
		BooklistRef:   req.BooklistRef,
		Items:         req.Items,
		CallbackToken: token,
	})
	if err != nil {
		return Run{}, err
	}

	if _, err := c.batches.Create(ctx, batch.NewBatch{
		ID:          batchID,
		ParentID:    req.ResumedFrom,
		Source:      req.Source,
		Environment: string(req.Environment),
		TotalBooks:  len(req.Items),
		CreatedBy:   req.CreatedBy,
		Notes:       req.Notes,
	}); err != nil {
		c.abandon(d, err)
		return Run{}, err
	}

	now := c.now().UTC()
	r := Run{
		ID:            d.RunID,
		BatchID:       batchID,
		ResumedFrom:   req.ResumedFrom,
		Environment:   req.Environment,
		Executor:      d.Kind,
		Target:        d.Target,
		Handle:        d.Handle,
		Source:        req.Source,
		BooklistRef:   req.BooklistRef,
		ScopedItems:   req.Items,
		Status:        StatusSubmitted,
		Nodes:         NewNodes(),
		ReportedTotal: len(req.Items),
		StartTime:     now,
		LogReference:  d.LogRef,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.repo.Create(ctx, &r); err != nil {
		c.abandon(d, err)
		if _, ferr := c.batches.Fail(ctx, batchID, "run record could not be stored"); ferr != nil {
			c.logger.Error("fail orphaned batch", "batch_id", batchID, "error", ferr)
		}
		return Run{}, fmt.Errorf("store run: %w", err)
	}

	if _, err := c.batches.Start(ctx, batchID); err != nil {
		c.logger.Error("start batch", "batch_id", batchID, "run_id", r.ID, "error", err)
	}

	c.logger.Info("run submitted", "run_id", r.ID, "batch_id", batchID, "environment", r.Environment,
		"executor", r.Executor, "resumed_from", r.ResumedFrom)
	return r, nil
}

// abandon stops a dispatched run whose tracking records could not be written.
func (c *Coordinator) abandon(d executor.Dispatch, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.exec.Stop(ctx, d.Kind, d.RunID, d.Handle)
	c.logger.Error("abandoning dispatched run", "run_id", d.RunID, "cause", cause, "stop_error", err)
}

// Get returns the stored run without asking its executor.
func (c *Coordinator) Get(ctx context.Context, runID string) (Run, error) {
	return c.repo.Get(ctx, runID)
}

// Poll refreshes a run from its executor. Terminal runs are returned as
// stored without contacting the executor, so their fields stay frozen.
// An unreachable executor changes nothing; an executor that has no record
// of the run counts a miss.
func (c *Coordinator) Poll(ctx context.Context, runID string) (Run, error) {
	unlock := c.locks.Lock(runID)
	defer unlock()

	r, err := c.repo.Get(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if r.Status.Terminal() {
		return r, nil
	}

	st, err := c.exec.Status(ctx, r.Executor, r.ID, r.Handle)
	switch {
	case errors.Is(err, executor.ErrRunUnknown):
		return c.miss(ctx, r)
	case err != nil:
		c.logger.Warn("poll failed", "run_id", r.ID, "error", err)
		return Run{}, err
	}
	return c.apply(ctx, r, st)
}

func (c *Coordinator) miss(ctx context.Context, r Run) (Run, error) {
	r.MissedPolls++
	r.UpdatedAt = c.now().UTC()
	if r.MissedPolls < c.cfg.MissLimit {
		c.logger.Warn("executor has no record of run", "run_id", r.ID, "missed_polls", r.MissedPolls)
		if err := c.repo.UpdateProgress(ctx, r); err != nil {
			return Run{}, fmt.Errorf("update run: %w", err)
		}
		return r, nil
	}

	r.Status = StatusNotFound
	r.Error = fmt.Sprintf("executor lost track of run after %d polls", r.MissedPolls)
	if err := c.repo.UpdateProgress(ctx, r); err != nil {
		return Run{}, fmt.Errorf("update run: %w", err)
	}
	if _, err := c.batches.Fail(ctx, r.BatchID, "run "+r.ID+" not found: "+r.Error); err != nil {
		c.logger.Warn("fail batch of lost run", "batch_id", r.BatchID, "error", err)
	}
	c.logger.Error("run not found", "run_id", r.ID, "batch_id", r.BatchID, "missed_polls", r.MissedPolls)
	c.notify(r)
	return r, nil
}

func (c *Coordinator) apply(ctx context.Context, prev Run, st executor.Status) (Run, error) {
	status, ok := runStatus(st.State)
	if !ok {
		c.logger.Warn("discarding snapshot with unknown state", "run_id", prev.ID, "state", st.State)
		return prev, nil
	}
	nodes, err := FromReport(st.Nodes)
	if err != nil {
		c.logger.Warn("discarding snapshot", "run_id", prev.ID, "error", err)
		return prev, nil
	}

	next := prev.clone()
	next.Status = status
	next.Stage = st.Stage
	next.Nodes = nodes
	next.ElapsedSeconds = max(prev.ElapsedSeconds, st.ElapsedSeconds)
	next.CurrentItem = st.CurrentItem
	next.LogTail = st.LogTail
	next.Error = st.Error
	next.MissedPolls = 0
	next.Tally = Tally{
		Success:    st.Tally.Success,
		Failed:     st.Tally.Failed,
		Skipped:    st.Tally.Skipped,
		Duplicates: st.Tally.Duplicates,
	}
	if st.Total > 0 {
		next.ReportedTotal = st.Total
	}

	if err := c.recordItems(ctx, next, st.Items); err != nil {
		return Run{}, err
	}
	if sameProgress(prev, next) {
		return prev, nil
	}

	if _, err := c.batches.ApplyCounts(ctx, next.BatchID, next.Counts()); err != nil {
		c.logger.Warn("apply batch counts", "batch_id", next.BatchID, "run_id", next.ID, "error", err)
	}
	switch next.Status {
	case StatusCompleted:
		if _, err := c.batches.Complete(ctx, next.BatchID); err != nil {
			c.logger.Warn("complete batch", "batch_id", next.BatchID, "error", err)
		}
	case StatusFailed:
		reason := next.Error
		if reason == "" {
			reason = "pipeline reported failure"
		}
		if _, err := c.batches.Fail(ctx, next.BatchID, reason); err != nil {
			c.logger.Warn("fail batch", "batch_id", next.BatchID, "error", err)
		}
	}

	next.UpdatedAt = c.now().UTC()
	if err := c.repo.UpdateProgress(ctx, next); err != nil {
		return Run{}, fmt.Errorf("update run: %w", err)
	}
	if next.Status != prev.Status {
		c.logger.Info("run status changed", "run_id", next.ID, "from", prev.Status, "to", next.Status, "stage", next.Stage)
	}
	c.notify(next)
	return next, nil
}

func (c *Coordinator) recordItems(ctx context.Context, r Run, reported []executor.ItemResult) error {
	if len(reported) == 0 || c.items == nil {
		return nil
	}
	items := make([]ledger.Item, 0, len(reported))
	for _, it := range reported {
		if it.Ref == "" || !ledger.Outcome(it.Outcome).Valid() {
			c.logger.Warn("skipping malformed item result", "run_id", r.ID, "item_ref", it.Ref, "outcome", it.Outcome)
			continue
		}
		items = append(items, ledger.Item{
			BatchID: r.BatchID,
			RunID:   r.ID,
			ItemRef: it.Ref,
			Title:   it.Title,
			Author:  it.Author,
			Outcome: ledger.Outcome(it.Outcome),
			Error:   it.Error,
		})
	}
	if len(items) == 0 {
		return nil
	}
	if err := c.items.Record(ctx, items); err != nil {
		return fmt.Errorf("record items: %w", err)
	}
	return nil
}

func (c *Coordinator) notify(r Run) {
	box := c.observer.Load()
	if box == nil || box.o == nil {
		return
	}
	box.o.ObserveProgress(Progress{
		RunID:          r.ID,
		BatchID:        r.BatchID,
		At:             c.now().UTC(),
		Processed:      r.Tally.Processed(),
		Success:        r.Tally.Success,
		Failed:         r.Tally.Failed,
		Skipped:        r.Tally.Skipped,
		Duplicates:     r.Tally.Duplicates,
		ElapsedSeconds: r.ElapsedSeconds,
		Terminal:       r.Status.Terminal(),
	})
}

func runStatus(s executor.State) (Status, bool) {
	switch s {
	case executor.StateSubmitted:
		return StatusSubmitted, true
	case executor.StateRunning:
		return StatusRunning, true
	case executor.StateCompleted:
		return StatusCompleted, true
	case executor.StateFailed:
		return StatusFailed, true
	}
	return "", false
}

// Cancel stops tracking a run and cancels its batch. The executor is not
// told; a dispatched process keeps running.
func (c *Coordinator) Cancel(ctx context.Context, runID string) (CancelResult, error) {
	r, err := c.cancel(ctx, runID, "cancelled by operator")
	if err != nil {
		return CancelResult{}, err
	}
	return CancelResult{Run: r, Semantics: SemanticsTrackingOnly}, nil
}

// Abort cancels the run and then asks the executor to kill it.
func (c *Coordinator) Abort(ctx context.Context, runID string) (CancelResult, error) {
	r, err := c.cancel(ctx, runID, "aborted by operator")
	if err != nil {
		return CancelResult{}, err
	}
	res := CancelResult{Run: r, Semantics: SemanticsStopRequested}
	if err := c.exec.Stop(ctx, r.Executor, r.ID, r.Handle); err != nil {
		res.StopError = err.Error()
		c.logger.Warn("stop run", "run_id", r.ID, "error", err)
	} else {
		res.ProcessStopped = true
	}
	return res, nil
}

func (c *Coordinator) cancel(ctx context.Context, runID, reason string) (Run, error) {
	unlock := c.locks.Lock(runID)
	defer unlock()

	r, err := c.repo.Get(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if r.Status.Terminal() {
		return Run{}, apperr.Transition("run", runID, string(r.Status), string(StatusCancelled))
	}

	r.Status = StatusCancelled
	r.UpdatedAt = c.now().UTC()
	if err := c.repo.UpdateProgress(ctx, r); err != nil {
		return Run{}, fmt.Errorf("update run: %w", err)
	}
	if _, err := c.batches.Cancel(ctx, r.BatchID, reason); err != nil {
		c.logger.Warn("cancel batch", "batch_id", r.BatchID, "error", err)
	}
	c.logger.Info("run cancelled", "run_id", r.ID, "batch_id", r.BatchID, "reason", reason)
	c.notify(r)
	return r, nil
}

// Retry submits a fresh run with the same parameters as a failed, lost or
// cancelled run. The new run gets a new batch. A run is retried at most
// once; the original records the id of its replacement.
func (c *Coordinator) Retry(ctx context.Context, runID string) (Run, error) {
	unlock := c.locks.Lock(runID)
	defer unlock()

	r, err := c.repo.Get(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if !r.Status.Retryable() {
		return Run{}, apperr.TransitionBecause("run", runID, string(r.Status), string(StatusSubmitted),
			"only failed, not_found or cancelled runs can be retried")
	}
	if r.RetriedAs != "" {
		return Run{}, apperr.TransitionBecause("run", runID, string(r.Status), string(StatusSubmitted),
			"already retried as run "+r.RetriedAs)
	}
	next, err := c.Submit(ctx, SubmitRequest{
		Environment: r.Environment,
		Source:      r.Source,
		BooklistRef: r.BooklistRef,
		CreatedBy:   r.CreatedBy,
		Notes:       "retry of run " + r.ID,
		Items:       r.ScopedItems,
		ResumedFrom: r.ResumedFrom,
	})
	if err != nil {
		return Run{}, err
	}
	r.RetriedAs = next.ID
	r.UpdatedAt = c.now().UTC()
	if err := c.repo.UpdateProgress(ctx, r); err != nil {
		c.logger.Warn("record retry", "run_id", r.ID, "retried_as", next.ID, "error", err)
	}
	return next, nil
}

// Advance applies a progress push for one node (1-based).
func (c *Coordinator) Advance(ctx context.Context, runID string, node, processedDelta int, status NodeStatus) (Run, error) {
	return c.mutateNodes(ctx, runID, func(n *Nodes) error {
		return n.Advance(node, processedDelta, status)
	})
}

// SizeNode sets the item total of one node (1-based).
func (c *Coordinator) SizeNode(ctx context.Context, runID string, node, total int) (Run, error) {
	return c.mutateNodes(ctx, runID, func(n *Nodes) error {
		return n.Size(node, total)
	})
}

func (c *Coordinator) mutateNodes(ctx context.Context, runID string, fn func(*Nodes) error) (Run, error) {
	unlock := c.locks.Lock(runID)
	defer unlock()

	r, err := c.repo.Get(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if r.Status.Terminal() {
		return Run{}, apperr.TransitionBecause("run", runID, string(r.Status), string(r.Status), "run no longer accepts progress")
	}

	nodes := r.Nodes
	if err := fn(&nodes); err != nil {
		return Run{}, err
	}
	if nodes == r.Nodes {
		return r, nil
	}
	r.Nodes = nodes
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].Status != NodePending {
			r.Stage = nodes[i].Name
			if r.Status == StatusSubmitted {
				r.Status = StatusRunning
			}
			break
		}
	}
	r.UpdatedAt = c.now().UTC()
	if err := c.repo.UpdateProgress(ctx, r); err != nil {
		return Run{}, fmt.Errorf("update run: %w", err)
	}
	return r, nil
}

// ReconcileReport summarises one reconcile sweep.
type ReconcileReport struct {
	Polled int `json:"polled"`
	Failed int `json:"failed"`
}

// ReconcileActive polls every active run with bounded concurrency. Poll
// errors are counted, not returned.
func (c *Coordinator) ReconcileActive(ctx context.Context) (ReconcileReport, error) {
	active, err := c.repo.ListActive(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list active runs: %w", err)
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ReconcileConcurrency)
	for _, r := range active {
		g.Go(func() error {
			if _, err := c.Poll(gctx, r.ID); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ReconcileReport{}, err
	}

	rep := ReconcileReport{Polled: len(active), Failed: int(failed.Load())}
	if rep.Polled > 0 {
		c.logger.Debug("reconciled active runs", "polled", rep.Polled, "failed", rep.Failed)
	}
	return rep, nil
}
