package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"bookpipeline/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(now time.Time) (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	repo.now = func() time.Time { return now }
	svc := NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return now }
	return svc, repo
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)

	b, err := svc.Create(ctx, NewBatch{Source: SourceGutenberg, Environment: "staging", CreatedBy: "ops"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, b.Status)
	assert.NotEmpty(t, b.ID)

	t.Run("complete from PENDING is rejected", func(t *testing.T) {
		_, err := svc.Complete(ctx, b.ID)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

		got, _ := svc.Get(ctx, b.ID)
		assert.Equal(t, StatusPending, got.Status)
	})

	t.Run("start then complete", func(t *testing.T) {
		started, err := svc.Start(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, started.Status)
		require.NotNil(t, started.StartedAt)

		done, err := svc.Complete(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, done.Status)
		require.NotNil(t, done.CompletedAt)
	})

	t.Run("terminal batch rejects cancel", func(t *testing.T) {
		_, err := svc.Cancel(ctx, b.ID, "operator")
		var te *apperr.TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "COMPLETED", te.From)
		assert.Equal(t, "CANCELLED", te.To)
	})

	t.Run("rollback from COMPLETED", func(t *testing.T) {
		rb, err := svc.RollBack(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRolledBack, rb.Status)

		_, err = svc.RollBack(ctx, b.ID)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	})
}

func TestService_CreateValidates(t *testing.T) {
	svc, _ := newTestService(time.Now())
	_, err := svc.Create(context.Background(), NewBatch{Source: "AMAZON"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestService_FailAppendsNote(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(time.Now())
	b, _ := svc.Create(ctx, NewBatch{Source: SourceOpenLibrary, Notes: "nightly"})
	_, _ = svc.Start(ctx, b.ID)

	failed, err := svc.Fail(ctx, b.ID, "parser crashed")
	require.NoError(t, err)
	assert.Equal(t, "nightly\nparser crashed", failed.Notes)

	stored, _ := svc.Get(ctx, b.ID)
	assert.Equal(t, failed.Notes, stored.Notes)
}

func TestService_ApplyCountsKeepsInvariant(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(time.Now())
	b, _ := svc.Create(ctx, NewBatch{Source: SourceOpenLibrary, TotalBooks: 10})
	_, _ = svc.Start(ctx, b.ID)

	updates := []Counts{
		{Total: 10, Success: 2},
		{Total: 10, Success: 5, Failed: 1, Skipped: 1},
		{Total: 10, Success: 9, Failed: 2, Skipped: 1},
	}
	for _, c := range updates {
		got, err := svc.ApplyCounts(ctx, b.ID, c)
		require.NoError(t, err)
		assert.Equal(t, got.SuccessBooks+got.FailedBooks+got.SkippedBooks, got.ProcessedBooks)
		assert.LessOrEqual(t, got.ProcessedBooks, got.TotalBooks)
	}

	// Reapplying the same snapshot leaves the counters untouched.
	again, err := svc.ApplyCounts(ctx, b.ID, updates[2])
	require.NoError(t, err)
	assert.Equal(t, 12, again.ProcessedBooks)
	assert.Equal(t, 12, again.TotalBooks)

	_, _ = svc.Complete(ctx, b.ID)
	_, err = svc.ApplyCounts(ctx, b.ID, Counts{Total: 20})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestService_ConcurrentTransitionsApplyOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(time.Now())
	b, _ := svc.Create(ctx, NewBatch{Source: SourceOpenLibrary})
	_, _ = svc.Start(ctx, b.ID)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Cancel(ctx, b.ID, "race"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestService_Stats(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	started := now.Add(-time.Hour)
	seed := []Batch{
		{ID: "a", Source: SourceGutenberg, Status: StatusCompleted, SuccessBooks: 8, FailedBooks: 2, ProcessedBooks: 10, TotalBooks: 10, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "b", Source: SourceGutenberg, Status: StatusRunning, SuccessBooks: 3, ProcessedBooks: 3, TotalBooks: 12, StartedAt: &started, CreatedAt: now.Add(-time.Hour)},
		{ID: "c", Source: SourceOpenLibrary, Status: StatusPending, CreatedAt: now.Add(-3 * 24 * time.Hour)},
		{ID: "d", Source: SourceOpenLibrary, Status: StatusFailed, FailedBooks: 4, ProcessedBooks: 4, TotalBooks: 4, CreatedAt: now.Add(-20 * 24 * time.Hour)},
		{ID: "e", Source: SourceOpenLibrary, Status: StatusRolledBack, CreatedAt: now.Add(-90 * 24 * time.Hour)},
	}
	for i := range seed {
		require.NoError(t, repo.Create(ctx, &seed[i]))
	}

	st, err := svc.Stats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, st.TotalBatches)
	assert.Equal(t, 1, st.ByStatus[StatusCompleted])
	assert.Equal(t, 1, st.ByStatus[StatusRolledBack])
	assert.Equal(t, 0, st.ByStatus[StatusCancelled])
	assert.Equal(t, Recent{Today: 2, ThisWeek: 3, ThisMonth: 4}, st.RecentBatches)
	assert.Equal(t, 11, st.TotalBooksImported)
	assert.Equal(t, 6, st.TotalBooksFailed)
	assert.Equal(t, 1, st.ActiveBatches)
	assert.Equal(t, 1, st.PendingBatches)
	assert.Equal(t, 13, st.BooksToday)
	assert.Equal(t, 2, st.FailedBooksToday)
	assert.InDelta(t, 25.0, st.CurrentProgress, 0.001)

	windowed, err := svc.Stats(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, windowed.TotalBatches)
}

func TestService_Gauges(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	started := now.Add(-48 * time.Hour)
	seed := []Batch{
		{ID: "long", Source: SourceGutenberg, Status: StatusRunning, SuccessBooks: 40, ProcessedBooks: 40, TotalBooks: 100, StartedAt: &started, CreatedAt: started},
		{ID: "queued", Source: SourceGutenberg, Status: StatusPending, CreatedAt: now.Add(-3 * 24 * time.Hour)},
		{ID: "morning", Source: SourceOpenLibrary, Status: StatusCompleted, SuccessBooks: 8, FailedBooks: 2, ProcessedBooks: 10, TotalBooks: 10, CreatedAt: now.Add(-time.Hour)},
		{ID: "last-night", Source: SourceOpenLibrary, Status: StatusFailed, FailedBooks: 5, ProcessedBooks: 5, TotalBooks: 5, CreatedAt: now.Add(-13 * time.Hour)},
	}
	for i := range seed {
		require.NoError(t, repo.Create(ctx, &seed[i]))
	}

	g, err := svc.Gauges(ctx)
	require.NoError(t, err)
	assert.Equal(t, Gauges{
		ActiveBatches:    1,
		PendingBatches:   1,
		BooksToday:       10,
		FailedBooksToday: 2,
		CurrentProgress:  40,
	}, g)
}

func TestParseWindow(t *testing.T) {
	d, err := ParseWindow("7d")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)

	d, err = ParseWindow("90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	d, err = ParseWindow("")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseWindow("soon")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
