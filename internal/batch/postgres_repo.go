package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

const batchColumns = `id, COALESCE(parent_id, ''), source, environment, status,
	total_books, processed_books, success_books, failed_books, skipped_books,
	started_at, completed_at, created_by, notes, created_at, updated_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(
		&b.ID, &b.ParentID, &b.Source, &b.Environment, &b.Status,
		&b.TotalBooks, &b.ProcessedBooks, &b.SuccessBooks, &b.FailedBooks, &b.SkippedBooks,
		&b.StartedAt, &b.CompletedAt, &b.CreatedBy, &b.Notes, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

func (r *PostgresRepo) Create(ctx context.Context, b *Batch) error {
	const sql = `
		INSERT INTO import_batches (id, parent_id, source, environment, status, total_books,
		                            created_by, notes, created_at, updated_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9, $9)`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.db.Exec(ctx, sql, b.ID, b.ParentID, b.Source, b.Environment, b.Status, b.TotalBooks,
		b.CreatedBy, b.Notes, b.CreatedAt)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Batch, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	b, err := scanBatch(r.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, apperr.NotFound("batch", id)
		}
		return Batch{}, err
	}
	return b, nil
}

func (r *PostgresRepo) List(ctx context.Context, q Query) ([]Batch, int, error) {
	clauses := []string{"1=1"}
	args := []any{}
	argn := 1

	if q.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", argn))
		args = append(args, q.Status)
		argn++
	}
	if q.Source != "" {
		clauses = append(clauses, fmt.Sprintf("source = $%d", argn))
		args = append(args, q.Source)
		argn++
	}
	if q.Environment != "" {
		clauses = append(clauses, fmt.Sprintf("environment = $%d", argn))
		args = append(args, q.Environment)
		argn++
	}
	if q.CreatedBy != "" {
		clauses = append(clauses, fmt.Sprintf("created_by = $%d", argn))
		args = append(args, q.CreatedBy)
		argn++
	}
	where := "WHERE " + strings.Join(clauses, " AND ")

	countCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var total int
	if err := r.db.QueryRow(countCtx, "SELECT COUNT(*) FROM import_batches "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	dataSQL := fmt.Sprintf(`SELECT %s FROM import_batches %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		batchColumns, where, argn, argn+1)
	args = append(args, limit, q.Offset)

	dataCtx, cancel2 := r.withTimeout(ctx)
	defer cancel2()
	rows, err := r.db.Query(dataCtx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepo) CreatedSince(ctx context.Context, since time.Time) ([]Batch, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE created_at >= $1`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Live(ctx context.Context, since time.Time) ([]Batch, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.db.Query(ctx, `SELECT `+batchColumns+` FROM import_batches
		WHERE status IN ($1, $2) OR created_at >= $3`, StatusPending, StatusRunning, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, from, to Status, u StatusUpdate) error {
	const sql = `
		UPDATE import_batches SET
			status = $3,
			started_at = COALESCE($4, started_at),
			completed_at = COALESCE($5, completed_at),
			notes = CASE
				WHEN $6::text = '' THEN notes
				WHEN notes = '' THEN $6::text
				ELSE notes || E'\n' || $6::text
			END,
			updated_at = now()
		WHERE id = $1 AND status = $2`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Exec(ctx, sql, id, from, to, u.StartedAt, u.CompletedAt, u.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

func (r *PostgresRepo) UpdateCounts(ctx context.Context, id string, c Counts) error {
	const sql = `
		UPDATE import_batches SET
			total_books = $2,
			processed_books = $3,
			success_books = $4,
			failed_books = $5,
			skipped_books = $6,
			updated_at = now()
		WHERE id = $1`

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.db.Exec(ctx, sql, id, c.Total, c.Processed(), c.Success, c.Failed, c.Skipped)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("batch", id)
	}
	return nil
}
