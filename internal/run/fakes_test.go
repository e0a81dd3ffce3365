package run

import (
	"context"
	"fmt"
	"sync"

	"bookpipeline/internal/executor"
)

// fakeExecutor is a scripted executor: tests set the status each run reports.
type fakeExecutor struct {
	mu          sync.Mutex
	next        int
	statuses    map[string]executor.Status
	errs        map[string]error
	dispatched  []executor.DispatchRequest
	stopped     []string
	dispatchErr error
	stopErr     error
	statusCalls int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{statuses: make(map[string]executor.Status), errs: make(map[string]error)}
}

func (f *fakeExecutor) Dispatch(ctx context.Context, req executor.DispatchRequest) (executor.Dispatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		return executor.Dispatch{}, f.dispatchErr
	}
	f.next++
	id := fmt.Sprintf("run-%d", f.next)
	f.dispatched = append(f.dispatched, req)
	f.statuses[id] = executor.Status{State: executor.StateSubmitted}
	kind := executor.KindRemote
	if req.Environment == executor.EnvLocal {
		kind = executor.KindLocal
	}
	return executor.Dispatch{RunID: id, Kind: kind, Target: "q", Handle: "h-" + id, LogRef: "log/" + id}, nil
}

func (f *fakeExecutor) Status(ctx context.Context, kind executor.Kind, runID, handle string) (executor.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if err := f.errs[runID]; err != nil {
		return executor.Status{}, err
	}
	st, ok := f.statuses[runID]
	if !ok {
		return executor.Status{}, executor.ErrRunUnknown
	}
	return st, nil
}

func (f *fakeExecutor) Stop(ctx context.Context, kind executor.Kind, runID, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, runID)
	return f.stopErr
}

func (f *fakeExecutor) set(runID string, st executor.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[runID] = st
	delete(f.errs, runID)
}

func (f *fakeExecutor) forget(runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.statuses, runID)
}

func (f *fakeExecutor) fail(runID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[runID] = err
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []Progress
}

func (o *recordingObserver) ObserveProgress(p Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, p)
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.seen)
}
