package health

import (
	"testing"
	"time"

	"bookpipeline/internal/run"

	"github.com/stretchr/testify/assert"
)

func progress(batchID string, at time.Time, success, failed, dups int, elapsed float64) run.Progress {
	return run.Progress{
		BatchID:        batchID,
		RunID:          "run-" + batchID,
		At:             at,
		Processed:      success + failed,
		Success:        success,
		Failed:         failed,
		Duplicates:     dups,
		ElapsedSeconds: elapsed,
	}
}

func TestAggregator_RepeatedObservationsDoNotInflate(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	a := NewAggregator(10 * time.Minute)

	a.ObserveProgress(progress("b1", t0.Add(time.Minute), 40, 10, 5, 100))
	once := a.Snapshot(t0.Add(5 * time.Minute))

	for i := 0; i < 5; i++ {
		a.ObserveProgress(progress("b1", t0.Add(time.Duration(2+i)*time.Minute), 40, 10, 5, 100))
	}
	again := a.Snapshot(t0.Add(5 * time.Minute))

	assert.Equal(t, once, again)
	assert.Equal(t, 50, again.Processed)
	assert.InDelta(t, 80.0, again.SuccessRate, 0.001)
	assert.InDelta(t, 20.0, again.ErrorRate, 0.001)
	assert.InDelta(t, 10.0, again.DuplicateRate, 0.001)
	assert.InDelta(t, 5.0, again.BooksPerMinute, 0.001)
	assert.InDelta(t, 2.0, again.AverageProcessTime, 0.001)
}

func TestAggregator_WindowDelta(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	a := NewAggregator(10 * time.Minute)

	a.ObserveProgress(progress("b1", t0, 100, 0, 0, 200))
	a.ObserveProgress(progress("b1", t0.Add(12*time.Minute), 118, 2, 0, 240))
	a.ObserveProgress(progress("b2", t0.Add(15*time.Minute), 10, 0, 0, 30))

	m := a.Snapshot(t0.Add(15 * time.Minute))

	// b1 contributes only what it did after t0+5m, measured from its last
	// sample before the window; b2 started inside the window.
	assert.Equal(t, 30, m.Processed)
	assert.InDelta(t, 2.0/30*100, m.ErrorRate, 0.001)
	assert.InDelta(t, 3.0, m.BooksPerMinute, 0.001)
}

func TestAggregator_IgnoresRegressions(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	a := NewAggregator(time.Hour)

	a.ObserveProgress(progress("b1", t0.Add(2*time.Minute), 20, 0, 0, 10))
	a.ObserveProgress(progress("b1", t0.Add(time.Minute), 30, 0, 0, 10))
	a.ObserveProgress(progress("b1", t0.Add(3*time.Minute), 5, 0, 0, 10))

	assert.Equal(t, 20, a.Snapshot(t0.Add(4*time.Minute)).Processed)
}

func TestAggregator_EmptyWindow(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	a := NewAggregator(5 * time.Minute)

	m := a.Snapshot(t0)
	assert.Equal(t, 0, m.Processed)
	assert.Equal(t, 100.0, m.SuccessRate)
	assert.Zero(t, m.ErrorRate)

	p := progress("b1", t0, 3, 0, 0, 6)
	p.Terminal = true
	a.ObserveProgress(p)
	assert.Equal(t, 3, a.Snapshot(t0.Add(time.Minute)).Processed)

	// A finished batch whose last report left the window is forgotten.
	assert.Equal(t, 0, a.Snapshot(t0.Add(time.Hour)).Processed)
	a.mu.Lock()
	assert.Empty(t, a.byID)
	a.mu.Unlock()
}

func TestAggregator_LongRunFirstSeenIsBaseline(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	a := NewAggregator(10 * time.Minute)

	// Two hours in when first observed: nothing of it belongs to the window.
	a.ObserveProgress(progress("b1", t0.Add(time.Minute), 900, 100, 0, 7200))
	m := a.Snapshot(t0.Add(2 * time.Minute))
	assert.Zero(t, m.Processed)
	assert.Zero(t, m.BooksPerMinute)

	a.ObserveProgress(progress("b1", t0.Add(3*time.Minute), 918, 102, 0, 7320))
	m = a.Snapshot(t0.Add(4 * time.Minute))
	assert.Equal(t, 20, m.Processed)
	assert.InDelta(t, 10.0, m.ErrorRate, 0.001)
	assert.InDelta(t, 2.0, m.BooksPerMinute, 0.001)
	assert.InDelta(t, 6.0, m.AverageProcessTime, 0.001)
}
