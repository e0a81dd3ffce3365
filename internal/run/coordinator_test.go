package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bookpipeline/internal/apperr"
	"bookpipeline/internal/batch"
	"bookpipeline/internal/executor"
	"bookpipeline/internal/ledger"
	"bookpipeline/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	coord    *Coordinator
	exec     *fakeExecutor
	runs     *MemoryRepo
	batches  *batch.Service
	items    *ledger.MemoryRepo
	observer *recordingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testutil.DiscardLogger()
	h := &harness{
		exec:     newFakeExecutor(),
		runs:     NewMemoryRepo(),
		batches:  batch.NewService(batch.NewMemoryRepo(), logger),
		items:    ledger.NewMemoryRepo(),
		observer: &recordingObserver{},
	}
	h.coord = NewCoordinator(h.runs, h.exec, h.batches, h.items, Config{MissLimit: 3}, logger)
	h.coord.SetObserver(h.observer)
	return h
}

func (h *harness) submit(t *testing.T) Run {
	t.Helper()
	r, err := h.coord.Submit(context.Background(), SubmitRequest{
		Environment: executor.EnvStaging,
		Source:      batch.SourceGutenberg,
		BooklistRef: "lists/classics.txt",
		CreatedBy:   "ops",
	})
	require.NoError(t, err)
	return r
}

func (h *harness) batch(t *testing.T, id string) batch.Batch {
	t.Helper()
	b, err := h.batches.Get(context.Background(), id)
	require.NoError(t, err)
	return b
}

func runningStatus(elapsed float64, success, failed int) executor.Status {
	return executor.Status{
		State: executor.StateRunning,
		Stage: StagePersist,
		Nodes: []executor.NodeStatus{
			{Name: StageDeltaDetection, Total: 10, Processed: 10, Status: "completed"},
			{Name: StageParseNormalize, Total: 10, Processed: 10, Status: "completed"},
			{Name: StagePersist, Total: 10, Processed: success + failed, Status: "running"},
		},
		ElapsedSeconds: elapsed,
		CurrentItem:    "Moby Dick / Herman Melville",
		Total:          10,
		Tally:          executor.Tally{Success: success, Failed: failed},
	}
}

func TestCoordinator_SubmitCreatesRunningBatch(t *testing.T) {
	h := newHarness(t)
	r := h.submit(t)

	assert.Equal(t, StatusSubmitted, r.Status)
	assert.Equal(t, executor.KindRemote, r.Executor)
	assert.Equal(t, NewNodes(), r.Nodes)

	b := h.batch(t, r.BatchID)
	assert.Equal(t, batch.StatusRunning, b.Status)
	assert.Equal(t, "staging", b.Environment)
	require.Len(t, h.exec.dispatched, 1)
	assert.Equal(t, r.BatchID, h.exec.dispatched[0].BatchID)
}

func TestCoordinator_SubmitDispatchFailureLeavesNothing(t *testing.T) {
	h := newHarness(t)
	h.exec.dispatchErr = fmt.Errorf("%w: connection refused", apperr.ErrExecutorUnreachable)

	_, err := h.coord.Submit(context.Background(), SubmitRequest{
		Environment: executor.EnvProduction, Source: batch.SourceOpenLibrary, BooklistRef: "l",
	})
	assert.ErrorIs(t, err, apperr.ErrExecutorUnreachable)

	batches, total, err := h.batches.List(context.Background(), batch.Query{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, batches)
	active, _ := h.runs.ListActive(context.Background())
	assert.Empty(t, active)
}

func TestCoordinator_SubmitValidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.Submit(ctx, SubmitRequest{Environment: "mars", Source: batch.SourceGutenberg, BooklistRef: "l"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = h.coord.Submit(ctx, SubmitRequest{Environment: executor.EnvLocal, Source: "SCROLLS", BooklistRef: "l"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = h.coord.Submit(ctx, SubmitRequest{Environment: executor.EnvLocal, Source: batch.SourceGutenberg})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Empty(t, h.exec.dispatched)
}

func TestCoordinator_PollIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submit(t)
	h.exec.set(r.ID, runningStatus(12, 4, 1))

	first, err := h.coord.Poll(ctx, r.ID)
	require.NoError(t, err)
	second, err := h.coord.Poll(ctx, r.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, StatusRunning, first.Status)
	assert.Equal(t, 1, h.observer.count())

	b := h.batch(t, r.BatchID)
	assert.Equal(t, 5, b.ProcessedBooks)
	assert.Equal(t, 10, b.TotalBooks)
}

func TestCoordinator_ElapsedNeverDecreasesAndFreezes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submit(t)

	h.exec.set(r.ID, runningStatus(30, 2, 0))
	got, err := h.coord.Poll(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 30.0, got.ElapsedSeconds)

	// A lagging replica reports an older elapsed value.
	h.exec.set(r.ID, runningStatus(25, 3, 0))
	got, err = h.coord.Poll(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 30.0, got.ElapsedSeconds)
	assert.Equal(t, 3, got.Tally.Success)

	done := runningStatus(41, 9, 1)
	done.State = executor.StateCompleted
	done.Stage = StageClassify
	h.exec.set(r.ID, done)
	got, err = h.coord.Poll(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 41.0, got.ElapsedSeconds)

	calls := h.exec.calls()
	late := runningStatus(99, 9, 1)
	h.exec.set(r.ID, late)
	for i := 0; i < 3; i++ {
		again, err := h.coord.Poll(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, 41.0, again.ElapsedSeconds)
		assert.Equal(t, StatusCompleted, again.Status)
		assert.Equal(t, StageClassify, again.Stage)
	}
	assert.Equal(t, calls, h.exec.calls(), "terminal runs must not query the executor")

	b := h.batch(t, r.BatchID)
	assert.Equal(t, batch.StatusCompleted, b.Status)
	assert.Equal(t, 9, b.SuccessBooks)
	assert.Equal(t, 1, b.FailedBooks)
	assert.Equal(t, b.SuccessBooks+b.FailedBooks+b.SkippedBooks, b.ProcessedBooks)
}

func TestCoordinator_FailedRunFailsBatch(t *testing.T) {
	h := newHarness(t)
	r := h.submit(t)

	st := runningStatus(5, 1, 2)
	st.State = executor.StateFailed
	st.Error = "persist: unique violation"
	h.exec.set(r.ID, st)

	got, err := h.coord.Poll(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	b := h.batch(t, r.BatchID)
	assert.Equal(t, batch.StatusFailed, b.Status)
	assert.Contains(t, b.Notes, "unique violation")
	assert.Equal(t, 2, b.FailedBooks)
}

func TestCoordinator_DiscardsOutOfOrderSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submit(t)
	h.exec.set(r.ID, runningStatus(10, 2, 0))
	before, err := h.coord.Poll(ctx, r.ID)
	require.NoError(t, err)

	h.exec.set(r.ID, executor.Status{
		State: executor.StateRunning,
		Stage: StageClassify,
		Nodes: []executor.NodeStatus{
			{Name: StageDeltaDetection, Status: "pending"},
			{Name: StageClassify, Status: "running"},
		},
		ElapsedSeconds: 50,
	})
	after, err := h.coord.Poll(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCoordinator_UnreachableDoesNotChangeState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submit(t)

	for i := 0; i < 5; i++ {
		h.exec.fail(r.ID, fmt.Errorf("%w: timeout", apperr.ErrExecutorUnreachable))
		_, err := h.coord.Poll(ctx, r.ID)
		assert.ErrorIs(t, err, apperr.ErrExecutorUnreachable)
	}

	stored, err := h.runs.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, stored.Status)
	assert.Zero(t, stored.MissedPolls)
}

func TestCoordinator_NotFoundAfterMissLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submit(t)
	h.exec.forget(r.ID)

	for i := 1; i < 3; i++ {
		got, err := h.coord.Poll(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusSubmitted, got.Status)
		assert.Equal(t, i, got.MissedPolls)
	}

	// A successful poll in between resets the count.
	h.exec.set(r.ID, runningStatus(3, 1, 0))
	got, err := h.coord.Poll(ctx, r.ID)
	require.NoError(t, err)
	assert.Zero(t, got.MissedPolls)

	h.exec.forget(r.ID)
	for i := 0; i < 3; i++ {
		got, err = h.coord.Poll(ctx, r.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, StatusNotFound, got.Status)
	assert.Equal(t, batch.StatusFailed, h.batch(t, r.BatchID).Status)
	assert.Contains(t, h.batch(t, r.BatchID).Notes, "not found")
}

func TestCoordinator_ConcurrentPollsTerminalWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submit(t)

	done := runningStatus(20, 10, 0)
	done.State = executor.StateCompleted
	h.exec.set(r.ID, done)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.coord.Poll(ctx, r.ID)
		}()
	}
	wg.Wait()

	stored, err := h.runs.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 1, h.exec.calls())
}

func TestCoordinator_RecordsItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submit(t)

	st := runningStatus(5, 1, 1)
	st.Items = []executor.ItemResult{
		{Ref: "isbn-1", Title: "Emma", Outcome: "success"},
		{Ref: "isbn-2", Title: "Persuasion", Outcome: "failed", Error: "bad epub"},
		{Ref: "", Outcome: "success"},
		{Ref: "isbn-3", Outcome: "vanished"},
	}
	h.exec.set(r.ID, st)
	_, err := h.coord.Poll(ctx, r.ID)
	require.NoError(t, err)

	items, err := h.items.List(ctx, r.BatchID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"isbn-1", "isbn-2"}, ledger.Refs(items))
}

func TestCoordinator_CancelIsTrackingOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submit(t)

	res, err := h.coord.Cancel(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, SemanticsTrackingOnly, res.Semantics)
	assert.False(t, res.ProcessStopped)
	assert.Equal(t, StatusCancelled, res.Run.Status)
	assert.Empty(t, h.exec.stopped)
	assert.Equal(t, batch.StatusCancelled, h.batch(t, r.BatchID).Status)

	_, err = h.coord.Cancel(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	// Progress arriving after the cancel is ignored.
	h.exec.set(r.ID, runningStatus(60, 8, 0))
	got, err := h.coord.Poll(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Zero(t, got.Tally.Success)
}

func TestCoordinator_Abort(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.submit(t)
	res, err := h.coord.Abort(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, res.ProcessStopped)
	assert.Equal(t, SemanticsStopRequested, res.Semantics)
	assert.Equal(t, []string{r.ID}, h.exec.stopped)

	r2 := h.submit(t)
	h.exec.stopErr = errors.New("no such process")
	res, err = h.coord.Abort(ctx, r2.ID)
	require.NoError(t, err)
	assert.False(t, res.ProcessStopped)
	assert.Equal(t, "no such process", res.StopError)
	assert.Equal(t, StatusCancelled, res.Run.Status)
}

func TestCoordinator_Retry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submit(t)

	_, err := h.coord.Retry(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = h.coord.Cancel(ctx, r.ID)
	require.NoError(t, err)

	retried, err := h.coord.Retry(ctx, r.ID)
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, retried.ID)
	assert.NotEqual(t, r.BatchID, retried.BatchID)
	assert.Equal(t, r.BooklistRef, retried.BooklistRef)
	assert.Equal(t, r.Environment, retried.Environment)

	original, err := h.coord.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, retried.ID, original.RetriedAs)

	_, err = h.coord.Retry(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.ErrorContains(t, err, "already retried as run "+retried.ID)
}

func TestCoordinator_ConcurrentRetriesSubmitOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submit(t)
	_, err := h.coord.Cancel(ctx, r.ID)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		submitted []string
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := h.coord.Retry(ctx, r.ID)
			if err == nil {
				mu.Lock()
				submitted = append(submitted, next.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, submitted, 1)
	original, err := h.coord.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, submitted[0], original.RetriedAs)
}

func TestCoordinator_AdvanceAndSize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.submit(t)

	_, err := h.coord.Advance(ctx, r.ID, 2, 1, NodeRunning)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := h.coord.SizeNode(ctx, r.ID, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, got.Status)

	got, err = h.coord.Advance(ctx, r.ID, 1, 2, NodeRunning)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, StageDeltaDetection, got.Stage)
	assert.InDelta(t, 50.0, got.Nodes.Percent(), 0.001)

	_, err = h.coord.Cancel(ctx, r.ID)
	require.NoError(t, err)
	_, err = h.coord.Advance(ctx, r.ID, 1, 1, NodeRunning)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestCoordinator_ReconcileActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.submit(t)
	b := h.submit(t)
	c := h.submit(t)
	_, err := h.coord.Cancel(ctx, c.ID)
	require.NoError(t, err)

	done := runningStatus(8, 10, 0)
	done.State = executor.StateCompleted
	h.exec.set(a.ID, done)
	h.exec.fail(b.ID, fmt.Errorf("%w: reset", apperr.ErrExecutorUnreachable))

	rep, err := h.coord.ReconcileActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Polled: 2, Failed: 1}, rep)

	got, _ := h.runs.Get(ctx, a.ID)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestCoordinator_ObserverSeesTerminal(t *testing.T) {
	h := newHarness(t)
	r := h.submit(t)
	st := runningStatus(2, 3, 0)
	st.State = executor.StateCompleted
	st.Tally.Duplicates = 2
	h.exec.set(r.ID, st)

	_, err := h.coord.Poll(context.Background(), r.ID)
	require.NoError(t, err)

	require.Equal(t, 1, h.observer.count())
	p := h.observer.seen[0]
	assert.True(t, p.Terminal)
	assert.Equal(t, 3, p.Processed)
	assert.Equal(t, 2, p.Duplicates)
	assert.WithinDuration(t, time.Now(), p.At, time.Minute)
}

type prefixIssuer struct{ err error }

func (p prefixIssuer) Issue(batchID string) (string, error) {
	return "tok-" + batchID, p.err
}

func TestCoordinator_SubmitHandsOutCallbackToken(t *testing.T) {
	h := newHarness(t)
	h.coord = NewCoordinator(h.runs, h.exec, h.batches, h.items, Config{Callbacks: prefixIssuer{}}, testutil.DiscardLogger())

	r := h.submit(t)
	require.Len(t, h.exec.dispatched, 1)
	assert.Equal(t, "tok-"+r.BatchID, h.exec.dispatched[0].CallbackToken)

	h.coord = NewCoordinator(h.runs, h.exec, h.batches, h.items, Config{Callbacks: prefixIssuer{err: errors.New("no entropy")}}, testutil.DiscardLogger())
	_, err := h.coord.Submit(context.Background(), SubmitRequest{
		Environment: executor.EnvStaging,
		Source:      batch.SourceGutenberg,
		BooklistRef: "lists/classics.txt",
	})
	require.Error(t, err)
	assert.Len(t, h.exec.dispatched, 1)
}
