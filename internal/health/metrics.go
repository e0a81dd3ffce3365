// Package health summarises recent pipeline activity into metrics and
// grades them against threshold rules.
package health

// Metric names usable in rules.
const (
	MetricBooksPerMinute       = "books_per_minute"
	MetricAverageProcessTime   = "average_process_time"
	MetricSuccessRate          = "success_rate"
	MetricDuplicateRate        = "duplicate_rate"
	MetricErrorRate            = "error_rate"
	MetricActiveBatches        = "active_batches"
	MetricPendingBatches       = "pending_batches"
	MetricStalledBatches       = "stalled_batches"
	MetricTotalBooksToday      = "total_books_today"
	MetricFailedBooksToday     = "failed_books_today"
	MetricCurrentBatchProgress = "current_batch_progress"
)

// MetricNames lists every metric a rule may reference.
var MetricNames = []string{
	MetricBooksPerMinute, MetricAverageProcessTime, MetricSuccessRate, MetricDuplicateRate,
	MetricErrorRate, MetricActiveBatches, MetricPendingBatches, MetricStalledBatches,
	MetricTotalBooksToday, MetricFailedBooksToday, MetricCurrentBatchProgress,
}

// Metrics is one snapshot of pipeline activity. Rates are percentages of
// the books processed inside the window; AverageProcessTime is seconds per
// book.
type Metrics struct {
	BooksPerMinute       float64 `json:"books_per_minute"`
	AverageProcessTime   float64 `json:"average_process_time"`
	SuccessRate          float64 `json:"success_rate"`
	DuplicateRate        float64 `json:"duplicate_rate"`
	ErrorRate            float64 `json:"error_rate"`
	ActiveBatches        int     `json:"active_batches"`
	PendingBatches       int     `json:"pending_batches"`
	StalledBatches       int     `json:"stalled_batches"`
	TotalBooksToday      int     `json:"total_books_today"`
	FailedBooksToday     int     `json:"failed_books_today"`
	CurrentBatchProgress float64 `json:"current_batch_progress"`
	// Processed is the number of books processed inside the window.
	Processed int `json:"processed"`
}

// Value returns the named metric.
func (m Metrics) Value(name string) (float64, bool) {
	switch name {
	case MetricBooksPerMinute:
		return m.BooksPerMinute, true
	case MetricAverageProcessTime:
		return m.AverageProcessTime, true
	case MetricSuccessRate:
		return m.SuccessRate, true
	case MetricDuplicateRate:
		return m.DuplicateRate, true
	case MetricErrorRate:
		return m.ErrorRate, true
	case MetricActiveBatches:
		return float64(m.ActiveBatches), true
	case MetricPendingBatches:
		return float64(m.PendingBatches), true
	case MetricStalledBatches:
		return float64(m.StalledBatches), true
	case MetricTotalBooksToday:
		return float64(m.TotalBooksToday), true
	case MetricFailedBooksToday:
		return float64(m.FailedBooksToday), true
	case MetricCurrentBatchProgress:
		return m.CurrentBatchProgress, true
	}
	return 0, false
}

func knownMetric(name string) bool {
	_, ok := Metrics{}.Value(name)
	return ok
}
