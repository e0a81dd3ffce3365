package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookpipeline/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepo struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresRepo(db *pgxpool.Pool, timeout time.Duration) *PostgresRepo {
	return &PostgresRepo{db: db, timeout: timeout}
}

func (r *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *PostgresRepo) Publish(ctx context.Context, b *Book, provider string, rawJSON []byte) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const bookSQL = `
		INSERT INTO catalog_books (item_ref, title, author, language, published, import_batch, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NULLIF($5, '')::uuid, now())
		ON CONFLICT (item_ref) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			language = EXCLUDED.language,
			published = TRUE,
			import_batch = EXCLUDED.import_batch,
			updated_at = now()`

	if _, err = tx.Exec(ctx, bookSQL, b.ItemRef, b.Title, b.Author, b.Language, b.ImportBatch); err != nil {
		return fmt.Errorf("publish book: %w", err)
	}

	const sourceSQL = `
		INSERT INTO catalog_sources (entity_key, provider, raw_json, fetched_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (entity_key, provider) DO UPDATE SET
			raw_json = EXCLUDED.raw_json,
			fetched_at = now()`

	if _, err = tx.Exec(ctx, sourceSQL, b.ItemRef, provider, rawJSON); err != nil {
		return fmt.Errorf("publish book source: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	b.Published = true
	return nil
}

func (r *PostgresRepo) Unpublish(ctx context.Context, itemRef string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE catalog_books SET published = FALSE, updated_at = now() WHERE item_ref = $1`, itemRef)
	if err != nil {
		return fmt.Errorf("unpublish book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("catalog book", itemRef)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM catalog_sources WHERE entity_key = $1`, itemRef); err != nil {
		return fmt.Errorf("delete book sources: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepo) GetByRef(ctx context.Context, itemRef string) (Book, error) {
	const query = `
		SELECT item_ref, title, author, language, published, COALESCE(import_batch::text, ''), updated_at
		FROM catalog_books
		WHERE item_ref = $1`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var b Book
	err := r.db.QueryRow(ctx, query, itemRef).Scan(
		&b.ItemRef, &b.Title, &b.Author, &b.Language, &b.Published, &b.ImportBatch, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Book{}, apperr.NotFound("catalog book", itemRef)
		}
		return Book{}, err
	}
	return b, nil
}
