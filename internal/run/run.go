package run

import (
	"slices"
	"time"

	"bookpipeline/internal/batch"
	"bookpipeline/internal/executor"
)

// Status is the tracking state of a pipeline run.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusNotFound means the executor lost the run. It is distinct from
	// failed, which the pipeline itself reported.
	StatusNotFound Status = "not_found"
	// StatusCancelled means the run is no longer tracked. The executor
	// process may still be running.
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNotFound, StatusCancelled:
		return true
	}
	return false
}

// Retryable reports whether a fresh run may be submitted in place of a run
// with this status.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusNotFound || s == StatusCancelled
}

// Tally counts item outcomes over the whole run.
type Tally struct {
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
}

func (t Tally) Processed() int {
	return t.Success + t.Failed + t.Skipped
}

// Run is one executor attempt driving a batch through the four stages.
type Run struct {
	ID             string               `json:"id"`
	BatchID        string               `json:"batch_id"`
	ResumedFrom    string               `json:"resumed_from,omitempty"`
	Environment    executor.Environment `json:"environment"`
	Executor       executor.Kind        `json:"executor"`
	Target         string               `json:"dispatch_target"`
	Handle         string               `json:"-"`
	Source         batch.Source         `json:"source"`
	BooklistRef    string               `json:"booklist_ref"`
	ScopedItems    []string             `json:"scoped_items,omitempty"`
	Status         Status               `json:"status"`
	Stage          string               `json:"stage"`
	Nodes          Nodes                `json:"nodes"`
	Tally          Tally                `json:"tally"`
	ReportedTotal  int                  `json:"reported_total"`
	StartTime      time.Time            `json:"start_time"`
	ElapsedSeconds float64              `json:"elapsed_seconds"`
	CurrentItem    string               `json:"current_item,omitempty"`
	LogReference   string               `json:"log_reference,omitempty"`
	LogTail        []string             `json:"log_tail,omitempty"`
	Error          string               `json:"error,omitempty"`
	MissedPolls    int                  `json:"missed_polls"`
	RetriedAs      string               `json:"retried_as,omitempty"`
	CreatedBy      string               `json:"created_by,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// Total is the number of items the run covers as far as is known.
func (r Run) Total() int {
	return max(r.ReportedTotal, r.Tally.Processed())
}

// Counts is the batch counter snapshot implied by the run's tally.
func (r Run) Counts() batch.Counts {
	return batch.Counts{
		Total:   r.Total(),
		Success: r.Tally.Success,
		Failed:  r.Tally.Failed,
		Skipped: r.Tally.Skipped,
	}
}

// sameProgress reports whether two snapshots carry identical observable
// progress.
func sameProgress(a, b Run) bool {
	return a.Status == b.Status &&
		a.Stage == b.Stage &&
		a.Nodes == b.Nodes &&
		a.Tally == b.Tally &&
		a.ReportedTotal == b.ReportedTotal &&
		a.ElapsedSeconds == b.ElapsedSeconds &&
		a.CurrentItem == b.CurrentItem &&
		a.Error == b.Error &&
		a.MissedPolls == b.MissedPolls &&
		slices.Equal(a.LogTail, b.LogTail)
}

func (r Run) clone() Run {
	r.ScopedItems = slices.Clone(r.ScopedItems)
	r.LogTail = slices.Clone(r.LogTail)
	return r
}
