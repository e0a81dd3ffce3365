package batch

import (
	"time"
)

// Status is the lifecycle state of an import batch.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Statuses lists every batch status in lifecycle order.
var Statuses = []Status{
	StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusRolledBack,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Source is the content origin a batch imports from.
type Source string

const (
	SourceOpenLibrary    Source = "OPEN_LIBRARY"
	SourceGutenberg      Source = "GUTENBERG"
	SourceStandardEbooks Source = "STANDARD_EBOOKS"
	SourceManualUpload   Source = "MANUAL_UPLOAD"
)

var Sources = []Source{SourceOpenLibrary, SourceGutenberg, SourceStandardEbooks, SourceManualUpload}

func (s Source) Valid() bool {
	for _, v := range Sources {
		if v == s {
			return true
		}
	}
	return false
}

// Batch is the unit of accounting and reversibility for one import attempt.
type Batch struct {
	ID             string     `json:"id"`
	ParentID       string     `json:"parent_id,omitempty"`
	Source         Source     `json:"source"`
	Environment    string     `json:"environment"`
	Status         Status     `json:"status"`
	TotalBooks     int        `json:"total_books"`
	ProcessedBooks int        `json:"processed_books"`
	SuccessBooks   int        `json:"success_books"`
	FailedBooks    int        `json:"failed_books"`
	SkippedBooks   int        `json:"skipped_books"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Counts is a full snapshot of a batch's book counters. Counters are always
// replaced as a whole, never incremented.
type Counts struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (c Counts) Processed() int {
	return c.Success + c.Failed + c.Skipped
}

// Normalize clamps negative counters to zero and raises Total so that it is
// never below the processed count.
func (c Counts) Normalize() Counts {
	c.Success = max(c.Success, 0)
	c.Failed = max(c.Failed, 0)
	c.Skipped = max(c.Skipped, 0)
	c.Total = max(c.Total, c.Processed())
	return c
}

// Counts returns the batch counters.
func (b Batch) Counts() Counts {
	return Counts{Total: b.TotalBooks, Success: b.SuccessBooks, Failed: b.FailedBooks, Skipped: b.SkippedBooks}
}

func (b *Batch) setCounts(c Counts) {
	b.TotalBooks = c.Total
	b.SuccessBooks = c.Success
	b.FailedBooks = c.Failed
	b.SkippedBooks = c.Skipped
	b.ProcessedBooks = c.Processed()
}

// Progress returns processed/total as a percentage.
func (b Batch) Progress() float64 {
	if b.TotalBooks == 0 {
		return 0
	}
	return float64(b.ProcessedBooks) / float64(b.TotalBooks) * 100
}

// NewBatch carries the caller supplied fields of a batch being created.
type NewBatch struct {
	ID          string
	ParentID    string
	Source      Source
	Environment string
	TotalBooks  int
	CreatedBy   string
	Notes       string
}

// StatusUpdate holds the fields written together with a status change.
type StatusUpdate struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	Note        string
}

// Query defines filters and pagination for listing batches.
type Query struct {
	Status      Status
	Source      Source
	Environment string
	CreatedBy   string
	Limit       int
	Offset      int
}

// Recent counts batches created in rolling windows ending now.
type Recent struct {
	Today     int `json:"today"`
	ThisWeek  int `json:"this_week"`
	ThisMonth int `json:"this_month"`
}

// Gauges is the point-in-time subset of Stats used for health checks.
type Gauges struct {
	ActiveBatches    int
	PendingBatches   int
	BooksToday       int
	FailedBooksToday int
	CurrentProgress  float64
}

// Stats is a read-only aggregation over the batch set.
type Stats struct {
	TotalBatches       int            `json:"total_batches"`
	ByStatus           map[Status]int `json:"by_status"`
	RecentBatches      Recent         `json:"recent_batches"`
	TotalBooksImported int            `json:"total_books_imported"`
	TotalBooksFailed   int            `json:"total_books_failed"`
	ActiveBatches      int            `json:"active_batches"`
	PendingBatches     int            `json:"pending_batches"`
	BooksToday         int            `json:"books_today"`
	FailedBooksToday   int            `json:"failed_books_today"`
	// CurrentProgress is the progress of the most recently started running batch.
	CurrentProgress float64 `json:"current_progress"`
}
