package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookpipeline/internal/apperr"
	"bookpipeline/internal/platform/keylock"

	"github.com/google/uuid"
)

// Service is the import batch registry. It owns every status change of a
// batch and applies them one at a time per batch id.
type Service struct {
	repo   Repository
	locks  *keylock.Map
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a batch registry over repo.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		locks:  keylock.New(),
		logger: logger.With("component", "batch"),
		now:    time.Now,
	}
}

// Create stores a new PENDING batch.
func (s *Service) Create(ctx context.Context, nb NewBatch) (Batch, error) {
	if !nb.Source.Valid() {
		return Batch{}, apperr.Invalid("unknown source %q", nb.Source)
	}
	if nb.TotalBooks < 0 {
		return Batch{}, apperr.Invalid("total books must not be negative")
	}
	id := nb.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC()
	b := Batch{
		ID:          id,
		ParentID:    nb.ParentID,
		Source:      nb.Source,
		Environment: nb.Environment,
		Status:      StatusPending,
		TotalBooks:  nb.TotalBooks,
		CreatedBy:   nb.CreatedBy,
		Notes:       nb.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, &b); err != nil {
		return Batch{}, fmt.Errorf("create batch: %w", err)
	}
	s.logger.Info("batch created", "batch_id", b.ID, "source", b.Source, "environment", b.Environment, "parent_id", b.ParentID)
	return b, nil
}

// Get returns a batch by id.
func (s *Service) Get(ctx context.Context, id string) (Batch, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of batches and the total match count.
func (s *Service) List(ctx context.Context, q Query) ([]Batch, int, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, 0, apperr.Invalid("unknown status %q", q.Status)
	}
	if q.Source != "" && !q.Source.Valid() {
		return nil, 0, apperr.Invalid("unknown source %q", q.Source)
	}
	return s.repo.List(ctx, q)
}

// Start moves a PENDING batch to RUNNING once the executor acknowledged it.
func (s *Service) Start(ctx context.Context, id string) (Batch, error) {
	now := s.now().UTC()
	return s.transition(ctx, id, StatusRunning, StatusUpdate{StartedAt: &now})
}

// Complete finishes a RUNNING batch.
func (s *Service) Complete(ctx context.Context, id string) (Batch, error) {
	now := s.now().UTC()
	return s.transition(ctx, id, StatusCompleted, StatusUpdate{CompletedAt: &now})
}

// Fail finishes a batch as FAILED, recording reason in its notes.
func (s *Service) Fail(ctx context.Context, id, reason string) (Batch, error) {
	now := s.now().UTC()
	return s.transition(ctx, id, StatusFailed, StatusUpdate{CompletedAt: &now, Note: reason})
}

// Cancel stops tracking a PENDING or RUNNING batch.
func (s *Service) Cancel(ctx context.Context, id, reason string) (Batch, error) {
	now := s.now().UTC()
	return s.transition(ctx, id, StatusCancelled, StatusUpdate{CompletedAt: &now, Note: reason})
}

// RollBack marks a COMPLETED or FAILED batch whose side effects were reversed.
func (s *Service) RollBack(ctx context.Context, id string) (Batch, error) {
	return s.transition(ctx, id, StatusRolledBack, StatusUpdate{Note: "rolled back"})
}

// ApplyCounts replaces the batch counters with a fresh snapshot. Only
// PENDING and RUNNING batches accept progress.
func (s *Service) ApplyCounts(ctx context.Context, id string, c Counts) (Batch, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	if !b.Status.Active() {
		return b, apperr.TransitionBecause("batch", id, string(b.Status), string(b.Status), "batch no longer accepts progress")
	}
	c = c.Normalize()
	if c == b.Counts() {
		return b, nil
	}
	if err := s.repo.UpdateCounts(ctx, id, c); err != nil {
		return Batch{}, fmt.Errorf("update batch counts: %w", err)
	}
	b.setCounts(c)
	b.UpdatedAt = s.now().UTC()
	return b, nil
}

func (s *Service) transition(ctx context.Context, id string, to Status, u StatusUpdate) (Batch, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	from := b.Status
	if !CanTransition(from, to) {
		return b, apperr.Transition("batch", id, string(from), string(to))
	}
	if err := s.repo.UpdateStatus(ctx, id, from, to, u); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return b, apperr.TransitionBecause("batch", id, string(from), string(to), "status changed concurrently")
		}
		return Batch{}, fmt.Errorf("update batch status: %w", err)
	}

	b.Status = to
	if u.StartedAt != nil {
		b.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		b.CompletedAt = u.CompletedAt
	}
	b.Notes = appendNote(b.Notes, u.Note)
	b.UpdatedAt = s.now().UTC()

	s.logger.Info("batch transition", "batch_id", id, "from", from, "to", to)
	return b, nil
}

// Stats aggregates the batches created within window (all batches when
// window is zero). Reads are not serialised against writers.
func (s *Service) Stats(ctx context.Context, window time.Duration) (Stats, error) {
	now := s.now().UTC()
	var since time.Time
	if window > 0 {
		since = now.Add(-window)
	}
	batches, err := s.repo.CreatedSince(ctx, since)
	if err != nil {
		return Stats{}, fmt.Errorf("load batches: %w", err)
	}
	return aggregate(batches, now), nil
}

// Gauges reports the live figures the health monitor needs: PENDING and
// RUNNING batches of any age, and book counts for the current UTC day.
func (s *Service) Gauges(ctx context.Context) (Gauges, error) {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	batches, err := s.repo.Live(ctx, today)
	if err != nil {
		return Gauges{}, fmt.Errorf("load live batches: %w", err)
	}
	st := aggregate(batches, now)
	return Gauges{
		ActiveBatches:    st.ActiveBatches,
		PendingBatches:   st.PendingBatches,
		BooksToday:       st.BooksToday,
		FailedBooksToday: st.FailedBooksToday,
		CurrentProgress:  st.CurrentProgress,
	}, nil
}

func aggregate(batches []Batch, now time.Time) Stats {
	st := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, status := range Statuses {
		st.ByStatus[status] = 0
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	week := now.Add(-7 * 24 * time.Hour)
	month := now.Add(-30 * 24 * time.Hour)

	var current *Batch
	for i := range batches {
		b := &batches[i]
		st.TotalBatches++
		st.ByStatus[b.Status]++
		st.TotalBooksImported += b.SuccessBooks
		st.TotalBooksFailed += b.FailedBooks

		switch b.Status {
		case StatusRunning:
			st.ActiveBatches++
			if current == nil || startedAfter(b, current) {
				current = b
			}
		case StatusPending:
			st.PendingBatches++
		}

		if !b.CreatedAt.Before(today) {
			st.RecentBatches.Today++
			st.BooksToday += b.ProcessedBooks
			st.FailedBooksToday += b.FailedBooks
		}
		if !b.CreatedAt.Before(week) {
			st.RecentBatches.ThisWeek++
		}
		if !b.CreatedAt.Before(month) {
			st.RecentBatches.ThisMonth++
		}
	}
	if current != nil {
		st.CurrentProgress = current.Progress()
	}
	return st
}

func startedAfter(a, b *Batch) bool {
	if a.StartedAt == nil {
		return false
	}
	if b.StartedAt == nil {
		return true
	}
	return a.StartedAt.After(*b.StartedAt)
}

func appendNote(notes, note string) string {
	if note == "" {
		return notes
	}
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
