package health

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// RuleSet holds the active rules and swaps them atomically on reload.
type RuleSet struct {
	rules  atomic.Pointer[[]Rule]
	path   string
	logger *slog.Logger
}

// NewRuleSet starts from the defaults, or from path when it is set.
func NewRuleSet(path string, logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rs := &RuleSet{path: path, logger: logger.With("component", "health_rules")}
	rules := DefaultRules()
	if path != "" {
		loaded, err := LoadRules(path)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	rs.rules.Store(&rules)
	return rs, nil
}

func (rs *RuleSet) Rules() []Rule {
	return *rs.rules.Load()
}

func (rs *RuleSet) Set(rules []Rule) {
	rs.rules.Store(&rules)
}

// Reload re-reads the rule file. A broken file leaves the current rules in
// place.
func (rs *RuleSet) Reload() error {
	if rs.path == "" {
		return nil
	}
	rules, err := LoadRules(rs.path)
	if err != nil {
		rs.logger.Warn("keeping previous alert rules", "path", rs.path, "error", err)
		return err
	}
	rs.Set(rules)
	rs.logger.Info("alert rules reloaded", "path", rs.path, "rules", len(rules))
	return nil
}

// Watch reloads the rule file whenever it changes until ctx is done. The
// parent directory is watched so that editors replacing the file by rename
// are picked up.
func (rs *RuleSet) Watch(ctx context.Context) error {
	if rs.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(rs.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch rules dir: %w", err)
	}

	target := filepath.Clean(rs.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					_ = rs.Reload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				rs.logger.Warn("rules watcher error", "error", err)
			}
		}
	}()
	return nil
}
