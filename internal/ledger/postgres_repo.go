package ledger

import (
	"context"
	"fmt"
	"time"

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

// Record upserts items in one round trip. A re-recorded item keeps its
// reversal mark.
func (r *PostgresRepo) Record(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	const sql = `
		INSERT INTO batch_items (batch_id, item_ref, run_id, title, author, outcome, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (batch_id, item_ref) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			outcome = EXCLUDED.outcome,
			error = EXCLUDED.error,
			recorded_at = now()`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(sql, it.BatchID, it.ItemRef, it.RunID, it.Title, it.Author, it.Outcome, it.Error)
	}
	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("record batch items: %w", err)
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, batchID string, outcome Outcome) ([]Item, error) {
	sql := `
		SELECT batch_id, item_ref, run_id, title, author, outcome, error, reversed_at, recorded_at
		FROM batch_items
		WHERE batch_id = $1`
	args := []any{batchID}
	if outcome != "" {
		sql += " AND outcome = $2"
		args = append(args, outcome)
	}
	sql += " ORDER BY item_ref"

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.BatchID, &it.ItemRef, &it.RunID, &it.Title, &it.Author,
			&it.Outcome, &it.Error, &it.ReversedAt, &it.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) MarkReversed(ctx context.Context, batchID string, refs []string, at time.Time) error {
	if len(refs) == 0 {
		return nil
	}
	const sql = `
		UPDATE batch_items SET reversed_at = $3
		WHERE batch_id = $1 AND item_ref = ANY($2) AND reversed_at IS NULL`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.db.Exec(ctx, sql, batchID, refs, at)
	return err
}

func (r *PostgresRepo) HasDetail(ctx context.Context, batchID string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM batch_items WHERE batch_id = $1)`, batchID).Scan(&exists)
	return exists, err
}
