package catalog

import (
	"time"
)

// Book is a catalog entry produced by an import. Rollback reverses an
// import by unpublishing the book and dropping its source payloads.
type Book struct {
	ItemRef     string    `json:"item_ref"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	Language    string    `json:"language,omitempty"`
	Published   bool      `json:"published"`
	ImportBatch string    `json:"import_batch,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Source struct {
	EntityKey string
	Provider  string
	RawJSON   []byte
	FetchedAt time.Time
}
