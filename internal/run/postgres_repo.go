package run

import (
	"context"
	"errors"
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

func (p *PostgresRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

const runColumns = `id, batch_id, COALESCE(resumed_from::text, ''), environment, executor, dispatch_target,
	handle, source, booklist_ref, scoped_items, status, stage, nodes, tally, reported_total,
	start_time, elapsed_seconds, current_item, log_reference, log_tail, error, missed_polls,
	retried_as, created_by, created_at, updated_at`

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.BatchID, &r.ResumedFrom, &r.Environment, &r.Executor, &r.Target,
		&r.Handle, &r.Source, &r.BooklistRef, &r.ScopedItems, &r.Status, &r.Stage, &r.Nodes, &r.Tally, &r.ReportedTotal,
		&r.StartTime, &r.ElapsedSeconds, &r.CurrentItem, &r.LogReference, &r.LogTail, &r.Error, &r.MissedPolls,
		&r.RetriedAs, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func (p *PostgresRepo) Create(ctx context.Context, r *Run) error {
	const sql = `
		INSERT INTO pipeline_runs (id, batch_id, resumed_from, environment, executor, dispatch_target,
		                           handle, source, booklist_ref, scoped_items, status, stage, nodes, tally,
		                           reported_total, start_time, elapsed_seconds, log_reference, created_by,
		                           created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $20)`

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	scoped := r.ScopedItems
	if scoped == nil {
		scoped = []string{}
	}
	_, err := p.db.Exec(ctx, sql,
		r.ID, r.BatchID, r.ResumedFrom, r.Environment, r.Executor, r.Target,
		r.Handle, r.Source, r.BooklistRef, scoped, r.Status, r.Stage, r.Nodes, r.Tally,
		r.ReportedTotal, r.StartTime, r.ElapsedSeconds, r.LogReference, r.CreatedBy, r.CreatedAt)
	return err
}

func (p *PostgresRepo) Get(ctx context.Context, id string) (Run, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	r, err := scanRun(p.db.QueryRow(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, apperr.NotFound("run", id)
		}
		return Run{}, err
	}
	return r, nil
}

func (p *PostgresRepo) UpdateProgress(ctx context.Context, r Run) error {
	const sql = `
		UPDATE pipeline_runs SET
			status = $2,
			stage = $3,
			nodes = $4,
			tally = $5,
			reported_total = $6,
			elapsed_seconds = $7,
			current_item = $8,
			log_tail = $9,
			error = $10,
			missed_polls = $11,
			retried_as = $12,
			updated_at = $13
		WHERE id = $1`

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	tail := r.LogTail
	if tail == nil {
		tail = []string{}
	}
	tag, err := p.db.Exec(ctx, sql, r.ID, r.Status, r.Stage, r.Nodes, r.Tally, r.ReportedTotal,
		r.ElapsedSeconds, r.CurrentItem, tail, r.Error, r.MissedPolls, r.RetriedAs, r.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("run", r.ID)
	}
	return nil
}

func (p *PostgresRepo) ListActive(ctx context.Context) ([]Run, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	rows, err := p.db.Query(ctx, `SELECT `+runColumns+` FROM pipeline_runs
		WHERE status IN ('submitted', 'running') ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresRepo) LatestForBatch(ctx context.Context, batchID string) (Run, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	r, err := scanRun(p.db.QueryRow(ctx, `SELECT `+runColumns+` FROM pipeline_runs
		WHERE batch_id = $1 ORDER BY created_at DESC LIMIT 1`, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, apperr.NotFound("run for batch", batchID)
		}
		return Run{}, err
	}
	return r, nil
}
