package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"bookpipeline/internal/apiclient"
	"bookpipeline/internal/batch"
	"bookpipeline/internal/health"
	"bookpipeline/internal/recovery"
)

var (
	colorOK    = lipgloss.Color("#2CD7C7")
	colorBusy  = lipgloss.Color("#20B9B4")
	colorWarn  = lipgloss.Color("#F4D03F")
	colorError = lipgloss.Color("#E74C3C")
	colorMuted = lipgloss.Color("#5C7A84")
)

var styles = struct {
	Title   lipgloss.Style
	OK      lipgloss.Style
	Busy    lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true),
	OK:      lipgloss.NewStyle().Foreground(colorOK),
	Busy:    lipgloss.NewStyle().Foreground(colorBusy),
	Warning: lipgloss.NewStyle().Foreground(colorWarn),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
}

// styleStatus colours run, batch and health states alike.
func styleStatus(s string) string {
	switch strings.ToLower(s) {
	case "completed", "healthy":
		return styles.OK.Render(s)
	case "submitted", "running", "pending":
		return styles.Busy.Render(s)
	case "cancelled", "rolled_back", "degraded":
		return styles.Warning.Render(s)
	case "failed", "not_found", "unhealthy":
		return styles.Error.Render(s)
	default:
		return s
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func progressLine(v apiclient.RunView) string {
	line := fmt.Sprintf("%s %-9s %-16s %5.1f%%  %d/%d", v.ID, styleStatus(string(v.Status)), v.Stage,
		v.Percent, v.Tally.Processed(), v.Total())
	if v.CurrentItem != "" {
		line += "  " + styles.Muted.Render(v.CurrentItem)
	}
	return line
}

func (a *app) printRun(v apiclient.RunView) error {
	if a.jsonOut {
		return a.printJSON(v)
	}
	w := a.out
	fmt.Fprintf(w, "%s %s\n", styles.Title.Render("run "+v.ID), styleStatus(string(v.Status)))
	fmt.Fprintf(w, "  batch      %s\n", v.BatchID)
	fmt.Fprintf(w, "  target     %s via %s (%s)\n", v.Environment, v.Executor, v.Target)
	fmt.Fprintf(w, "  progress   %.1f%%  stage %s\n", v.Percent, v.Stage)
	fmt.Fprintf(w, "  tally      %d ok, %d failed, %d skipped, %d duplicates\n",
		v.Tally.Success, v.Tally.Failed, v.Tally.Skipped, v.Tally.Duplicates)
	for _, n := range v.Nodes {
		fmt.Fprintf(w, "    %-16s %4d/%-4d %s\n", n.Name, n.Processed, n.Total, styleStatus(string(n.Status)))
	}
	if v.Error != "" {
		fmt.Fprintln(w, styles.Error.Render("  error      "+v.Error))
	}
	if v.MissedPolls > 0 {
		fmt.Fprintln(w, styles.Warning.Render(fmt.Sprintf("  missed polls %d", v.MissedPolls)))
	}
	return nil
}

func printBatch(w io.Writer, b batch.Batch) {
	fmt.Fprintf(w, "%s %s\n", styles.Title.Render("batch "+b.ID), styleStatus(string(b.Status)))
	if b.ParentID != "" {
		fmt.Fprintf(w, "  parent     %s\n", b.ParentID)
	}
	fmt.Fprintf(w, "  source     %s on %s\n", b.Source, b.Environment)
	fmt.Fprintf(w, "  books      %d/%d processed, %d ok, %d failed, %d skipped\n",
		b.ProcessedBooks, b.TotalBooks, b.SuccessBooks, b.FailedBooks, b.SkippedBooks)
}

func printBatchTable(w io.Writer, batches []batch.Batch) {
	for _, b := range batches {
		fmt.Fprintf(w, "%-36s %-12s %-11s %-12s %5.1f%%  %d/%d\n", b.ID, b.Source, b.Environment,
			styleStatus(string(b.Status)), b.Progress(), b.ProcessedBooks, b.TotalBooks)
	}
}

func printStats(w io.Writer, s batch.Stats) {
	fmt.Fprintf(w, "%s %d\n", styles.Title.Render("batches"), s.TotalBatches)
	for _, st := range batch.Statuses {
		if n := s.ByStatus[st]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", styleStatus(string(st)), n)
		}
	}
	fmt.Fprintf(w, "  active %d, pending %d\n", s.ActiveBatches, s.PendingBatches)
	fmt.Fprintf(w, "  imported %d, failed %d (today %d, %d failed)\n",
		s.TotalBooksImported, s.TotalBooksFailed, s.BooksToday, s.FailedBooksToday)
}

func printHealth(w io.Writer, r health.Report) {
	fmt.Fprintf(w, "%s %s\n", styles.Title.Render("health"), styleStatus(string(r.Status)))
	m := r.Metrics
	fmt.Fprintf(w, "  %.1f books/min, success %.1f%%, errors %.1f%%, duplicates %.1f%%\n",
		m.BooksPerMinute, m.SuccessRate, m.ErrorRate, m.DuplicateRate)
	fmt.Fprintf(w, "  batches active %d, pending %d, stalled %d\n", m.ActiveBatches, m.PendingBatches, m.StalledBatches)
	for _, al := range r.Alerts {
		style := styles.Muted
		switch al.Severity {
		case health.SeverityCritical:
			style = styles.Error
		case health.SeverityWarning:
			style = styles.Warning
		}
		fmt.Fprintln(w, style.Render(fmt.Sprintf("  [%s] %s", al.Severity, al.Message)))
	}
}

func (a *app) printPrecondition(p recovery.Precondition) error {
	if a.jsonOut {
		return a.printJSON(p)
	}
	verdict := styles.OK.Render("allowed")
	if !p.Allowed {
		verdict = styles.Error.Render("not allowed")
	}
	fmt.Fprintf(a.out, "%s of %s (%s): %s\n", p.Operation, p.BatchID, p.BatchStatus, verdict)
	if p.Reason != "" {
		fmt.Fprintf(a.out, "  %s\n", p.Reason)
	}
	if p.InProgress != "" {
		fmt.Fprintf(a.out, "  %s already in progress\n", p.InProgress)
	}
	if p.Destructive {
		fmt.Fprintln(a.out, styles.Warning.Render("  destructive: this cannot be undone"))
	}
	if len(p.Items) > 0 {
		fmt.Fprintf(a.out, "  %d items\n", len(p.Items))
	}
	return nil
}
