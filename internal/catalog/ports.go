//go:generate mockgen -source=ports.go -destination=mock_repository.go -package=catalog
package catalog

import (
	"context"
)

type Repository interface {
	// Publish upserts book and its raw source payload.
	Publish(ctx context.Context, book *Book, provider string, rawJSON []byte) error
	// Unpublish hides the book and removes its source payloads. Unpublishing
	// an already hidden book is a no-op; an unknown ref is ErrNotFound.
	Unpublish(ctx context.Context, itemRef string) error
	GetByRef(ctx context.Context, itemRef string) (Book, error)
}
