package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"bookpipeline/internal/apiclient"
	"bookpipeline/internal/batch"
	"bookpipeline/internal/health"
	"bookpipeline/internal/recovery"
	"bookpipeline/internal/run"
	"bookpipeline/internal/snapshot"
)

// pipelineAPI is the part of the API client the commands use.
type pipelineAPI interface {
	Submit(ctx context.Context, req apiclient.SubmitRequest) (apiclient.RunView, error)
	Poll(ctx context.Context, runID string) (apiclient.RunView, error)
	Cancel(ctx context.Context, runID string) (run.CancelResult, error)
	Abort(ctx context.Context, runID string) (run.CancelResult, error)
	Retry(ctx context.Context, runID string) (apiclient.RunView, error)
	ListBatches(ctx context.Context, opts apiclient.ListOptions) ([]batch.Batch, apiclient.Page, error)
	GetBatch(ctx context.Context, batchID string) (batch.Batch, error)
	Stats(ctx context.Context, window string) (batch.Stats, error)
	CheckResume(ctx context.Context, batchID string) (recovery.Precondition, error)
	Resume(ctx context.Context, batchID, createdBy string) (recovery.ResumeResult, error)
	CheckRollback(ctx context.Context, batchID string) (recovery.Precondition, error)
	Rollback(ctx context.Context, batchID string) (recovery.RollbackResult, error)
	Health(ctx context.Context) (health.Report, error)
}

// confirmFunc asks the operator to approve a destructive action.
type confirmFunc func(title, description string) (bool, error)

var errNotConfirmed = errors.New("aborted by operator")

type app struct {
	out    io.Writer
	errOut io.Writer

	apiURL   string
	cacheDir string
	jsonOut  bool
	yes      bool
	timeout  time.Duration

	api       pipelineAPI
	cache     *snapshot.Store
	ownsCache bool
	confirm   confirmFunc
	logger    *slog.Logger
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, confirm: huhConfirm}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "bookpipeline", "snapshots")
	}
	return ""
}

// open connects the client and cache unless a test already set them, then
// reconciles the cached current run with the server.
func (a *app) open(ctx context.Context) error {
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	if a.api == nil {
		a.api = apiclient.New(apiclient.Config{BaseURL: a.apiURL, Timeout: a.timeout, MaxRetries: 2})
	}
	if a.cache == nil {
		store, err := snapshot.Open(a.cacheDir, a.logger)
		if err != nil {
			return fmt.Errorf("open snapshot cache: %w", err)
		}
		a.cache = store
		a.ownsCache = true
	}
	a.reconcile(ctx)
	return nil
}

func (a *app) close() {
	if a.cache != nil && a.ownsCache {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("close snapshot cache", "error", err)
		}
		a.cache = nil
	}
}

// reconcile refreshes the cached current run from the server. The cache is
// never trusted on its own: a run the server no longer knows is evicted,
// and an unreachable server leaves the cache untouched.
func (a *app) reconcile(ctx context.Context) {
	snap, err := a.cache.Load()
	if err != nil {
		if !errors.Is(err, snapshot.ErrNoSnapshot) {
			a.logger.Warn("read snapshot cache", "error", err)
		}
		return
	}
	v, err := a.api.Poll(ctx, snap.RunID)
	switch {
	case apiclient.IsNotFound(err):
		a.logger.Warn("cached run unknown to server, evicting", "run_id", snap.RunID)
		if err := a.cache.Evict(snap.RunID); err != nil {
			a.logger.Warn("evict snapshot", "run_id", snap.RunID, "error", err)
		}
	case err != nil:
		a.logger.Warn("could not refresh cached run", "run_id", snap.RunID, "error", err)
	default:
		a.remember(v)
	}
}

func (a *app) remember(v apiclient.RunView) {
	err := a.cache.Save(snapshot.Snapshot{
		RunID:       v.ID,
		BatchID:     v.BatchID,
		Environment: string(v.Environment),
		Status:      string(v.Status),
		Stage:       v.Stage,
		Percent:     v.Percent,
		Elapsed:     v.ElapsedSeconds,
	})
	if err != nil {
		a.logger.Warn("save snapshot", "run_id", v.ID, "error", err)
	}
}

// approve runs the confirmation step. --yes skips it; without a terminal
// there is nobody to ask, so the action is refused.
func (a *app) approve(title, description string) error {
	if a.yes {
		return nil
	}
	if a.confirm == nil {
		return fmt.Errorf("%s: confirmation required, rerun with --yes", title)
	}
	ok, err := a.confirm(title, description)
	if err != nil {
		return err
	}
	if !ok {
		return errNotConfirmed
	}
	return nil
}

func huhConfirm(title, description string) (bool, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return false, fmt.Errorf("%s: stdin is not a terminal, rerun with --yes", title)
	}
	var ok bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)).Run()
	return ok, err
}
