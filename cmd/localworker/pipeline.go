package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"bookpipeline/internal/catalog"
	"bookpipeline/internal/executor"
	"bookpipeline/internal/run"
)

// Publisher stores an imported book in the catalog.
type Publisher interface {
	Publish(ctx context.Context, b *catalog.Book, provider string, rawJSON []byte) error
}

// worker runs the four pipeline stages over a booklist and mirrors its
// progress into the status file read by the local executor.
type worker struct {
	statusPath string
	batchID    string
	provider   string
	pub        Publisher
	delay      time.Duration
	logger     *slog.Logger
	now        func() time.Time

	start time.Time
	st    executor.Status
	seen  map[string]int
	books map[string]*catalog.Book
}

func newWorker(statusPath, batchID, source string, pub Publisher, delay time.Duration, logger *slog.Logger) *worker {
	return &worker{
		statusPath: statusPath,
		batchID:    batchID,
		provider:   strings.ToLower(source),
		pub:        pub,
		delay:      delay,
		logger:     logger,
		now:        time.Now,
	}
}

func (w *worker) run(ctx context.Context, entries []entry) error {
	w.start = w.now()
	w.seen = make(map[string]int, len(entries))
	w.books = make(map[string]*catalog.Book, len(entries))
	w.st = executor.Status{State: executor.StateRunning, Total: len(entries)}
	for _, name := range run.Stages {
		w.st.Nodes = append(w.st.Nodes, executor.NodeStatus{Name: name, Status: string(run.NodePending)})
	}
	if err := w.flush(); err != nil {
		return err
	}

	unique := w.stage(ctx, 0, entries, w.detectDelta)
	valid := w.stage(ctx, 1, unique, w.normalize)
	persisted := w.stage(ctx, 2, valid, w.persist)
	w.stage(ctx, 3, persisted, w.classify)

	if err := ctx.Err(); err != nil {
		w.st.State = executor.StateFailed
		w.st.Error = "worker stopped: " + err.Error()
		w.logger.Warn("run stopped", "batch_id", w.batchID, "error", err)
		return errors.Join(err, w.flush())
	}
	w.st.State = executor.StateCompleted
	w.st.CurrentItem = ""
	w.logger.Info("run completed", "batch_id", w.batchID, "success", w.st.Tally.Success,
		"failed", w.st.Tally.Failed, "skipped", w.st.Tally.Skipped)
	return w.flush()
}

// stage feeds entries through step and returns the ones that pass on to
// the next stage. A cancelled context leaves the stage running.
func (w *worker) stage(ctx context.Context, node int, entries []entry, step func(context.Context, entry) (bool, error)) []entry {
	n := &w.st.Nodes[node]
	n.Total = len(entries)
	n.Status = string(run.NodeRunning)
	w.st.Stage = n.Name
	w.logger.Info("stage started", "stage", n.Name, "items", n.Total)
	_ = w.flush()

	var pass []entry
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil
		}
		w.st.CurrentItem = e.label()
		ok, err := step(ctx, e)
		if err != nil {
			w.fail(e, err)
		} else if ok {
			pass = append(pass, e)
		}
		n.Processed++
		if err := w.flush(); err != nil {
			w.logger.Warn("write status", "error", err)
		}
		if w.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.delay):
			}
		}
	}
	n.Status = string(run.NodeCompleted)
	_ = w.flush()
	return pass
}

func (w *worker) detectDelta(ctx context.Context, e entry) (bool, error) {
	w.seen[e.Ref]++
	if w.seen[e.Ref] == 1 {
		return true, nil
	}
	w.st.Tally.Duplicates++
	w.st.Tally.Skipped++
	w.st.Items = append(w.st.Items, executor.ItemResult{Ref: e.Ref, Title: e.Title, Author: e.Author, Outcome: "skipped", Error: "duplicate in booklist"})
	w.logger.Debug("duplicate skipped", "ref", e.Ref)
	return false, nil
}

func (w *worker) normalize(ctx context.Context, e entry) (bool, error) {
	if strings.TrimSpace(e.Title) == "" {
		return false, errors.New("missing title")
	}
	return true, nil
}

func (w *worker) persist(ctx context.Context, e entry) (bool, error) {
	b := &catalog.Book{
		ItemRef:     e.Ref,
		Title:       strings.Join(strings.Fields(e.Title), " "),
		Author:      strings.Join(strings.Fields(e.Author), " "),
		Language:    e.Language,
		ImportBatch: w.batchID,
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	if err := w.pub.Publish(ctx, b, w.provider, raw); err != nil {
		return false, fmt.Errorf("publish: %w", err)
	}
	w.books[e.Ref] = b
	w.st.Tally.Success++
	w.st.Items = append(w.st.Items, executor.ItemResult{Ref: e.Ref, Title: b.Title, Author: b.Author, Outcome: "success"})
	return true, nil
}

// classify fills in a missing language tag and republishes the book.
// A failure here does not undo the persisted book.
func (w *worker) classify(ctx context.Context, e entry) (bool, error) {
	b := w.books[e.Ref]
	if b == nil || b.Language != "" {
		return true, nil
	}
	b.Language = guessLanguage(b.Title)
	raw, _ := json.Marshal(e)
	if err := w.pub.Publish(ctx, b, w.provider, raw); err != nil {
		w.logger.Warn("classify publish", "ref", e.Ref, "error", err)
	}
	return true, nil
}

// guessLanguage tags plain ASCII titles as English and leaves everything
// else undetermined.
func guessLanguage(title string) string {
	for _, r := range title {
		if r > unicode.MaxASCII {
			return "und"
		}
	}
	return "en"
}

func (w *worker) fail(e entry, err error) {
	w.st.Tally.Failed++
	w.st.Items = append(w.st.Items, executor.ItemResult{Ref: e.Ref, Title: e.Title, Author: e.Author, Outcome: "failed", Error: err.Error()})
	w.logger.Warn("item failed", "ref", e.Ref, "stage", w.st.Stage, "error", err)
}

func (w *worker) flush() error {
	w.st.ElapsedSeconds = w.now().Sub(w.start).Seconds()
	return executor.WriteStatusFile(w.statusPath, w.st)
}
