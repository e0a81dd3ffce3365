package health

import (
	"sync"
	"time"

	"bookpipeline/internal/run"
)

type sample struct {
	at         time.Time
	processed  int
	success    int
	failed     int
	duplicates int
	elapsed    float64
	// baseline marks the first sample of a run that had already been going
	// longer than the window when it was first observed, e.g. after a
	// restart. Its totals predate the window and are never counted.
	baseline bool
}

type series struct {
	samples  []sample
	terminal bool
}

// Aggregator turns the cumulative per-batch progress reported by the run
// coordinator into windowed throughput and rates. Because samples are
// cumulative, observing the same totals twice adds nothing.
type Aggregator struct {
	mu     sync.Mutex
	window time.Duration
	byID   map[string]*series
	now    func() time.Time
}

func NewAggregator(window time.Duration) *Aggregator {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Aggregator{window: window, byID: make(map[string]*series), now: time.Now}
}

func (a *Aggregator) Window() time.Duration {
	return a.window
}

// ObserveProgress implements run.ProgressObserver.
func (a *Aggregator) ObserveProgress(p run.Progress) {
	at := p.At
	if at.IsZero() {
		at = a.now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.byID[p.BatchID]
	if !ok {
		s = &series{}
		a.byID[p.BatchID] = s
	}
	if n := len(s.samples); n > 0 {
		last := s.samples[n-1]
		// Out of order or regressing reports are ignored.
		if at.Before(last.at) || p.Processed < last.processed {
			return
		}
		if p.Processed == last.processed && p.Failed == last.failed && p.Duplicates == last.duplicates {
			s.terminal = s.terminal || p.Terminal
			return
		}
	}
	s.samples = append(s.samples, sample{
		at:         at,
		processed:  p.Processed,
		success:    p.Success,
		failed:     p.Failed,
		duplicates: p.Duplicates,
		elapsed:    p.ElapsedSeconds,
		baseline:   len(s.samples) == 0 && p.ElapsedSeconds > a.window.Seconds(),
	})
	s.terminal = s.terminal || p.Terminal
}

// Snapshot computes the window metrics at now. Only the activity fields
// are set; registry gauges are filled in by the Monitor.
func (a *Aggregator) Snapshot(now time.Time) Metrics {
	start := now.Add(-a.window)

	a.mu.Lock()
	defer a.mu.Unlock()

	var total sample
	for id, s := range a.byID {
		s.prune(start)
		if len(s.samples) == 0 {
			delete(a.byID, id)
			continue
		}
		d := s.delta(start)
		total.processed += d.processed
		total.success += d.success
		total.failed += d.failed
		total.duplicates += d.duplicates
		total.elapsed += d.elapsed
		if s.terminal && s.samples[len(s.samples)-1].at.Before(start) {
			delete(a.byID, id)
		}
	}

	m := Metrics{Processed: total.processed, SuccessRate: 100}
	if total.processed > 0 {
		n := float64(total.processed)
		m.SuccessRate = float64(total.success) / n * 100
		m.ErrorRate = float64(total.failed) / n * 100
		m.DuplicateRate = float64(total.duplicates) / n * 100
		m.AverageProcessTime = total.elapsed / n
	}
	m.BooksPerMinute = float64(total.processed) / a.window.Minutes()
	return m
}

// prune drops samples older than start, keeping the newest of them as the
// baseline for the window.
func (s *series) prune(start time.Time) {
	i := 0
	for i+1 < len(s.samples) && !s.samples[i+1].at.After(start) {
		i++
	}
	s.samples = s.samples[i:]
}

// delta is the progress made inside the window. A batch first seen inside
// the window counts from zero unless its first sample is a baseline.
func (s *series) delta(start time.Time) sample {
	last := s.samples[len(s.samples)-1]
	first := s.samples[0]
	if first.at.After(start) && !first.baseline {
		return last
	}
	return sample{
		processed:  last.processed - first.processed,
		success:    last.success - first.success,
		failed:     last.failed - first.failed,
		duplicates: last.duplicates - first.duplicates,
		elapsed:    max(last.elapsed-first.elapsed, 0),
	}
}
