package ledger

import (
	"time"
)

// Outcome is what happened to a single book within a batch.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomeSkipped:
		return true
	}
	return false
}

// Item is one book's entry in a batch's ledger. ItemRef is the ISBN or
// source id the executor used for the book.
type Item struct {
	BatchID    string     `json:"batch_id"`
	RunID      string     `json:"run_id"`
	ItemRef    string     `json:"item_ref"`
	Title      string     `json:"title,omitempty"`
	Author     string     `json:"author,omitempty"`
	Outcome    Outcome    `json:"outcome"`
	Error      string     `json:"error,omitempty"`
	ReversedAt *time.Time `json:"reversed_at,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

func (i Item) Reversed() bool {
	return i.ReversedAt != nil
}

// Refs returns the item refs of items in order.
func Refs(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ItemRef)
	}
	return out
}
