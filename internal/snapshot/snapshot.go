// Package snapshot is the CLI's local cache of the runs it is watching. It
// is never a source of truth: every cached run is reconciled with a fresh
// poll before it is shown or acted on.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var ErrNoSnapshot = errors.New("no cached run")

const (
	runPrefix  = "run/"
	currentKey = "current"
)

// Snapshot is the last known state of a run as seen by this client.
type Snapshot struct {
	RunID       string    `json:"run_id"`
	BatchID     string    `json:"batch_id"`
	Environment string    `json:"environment"`
	Status      string    `json:"status"`
	Stage       string    `json:"stage,omitempty"`
	Percent     float64   `json:"percent"`
	Elapsed     float64   `json:"elapsed_seconds"`
	SavedAt     time.Time `json:"saved_at"`
}

type Store struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the cache in dir, or in memory when dir is empty.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open run cache: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save caches snap and makes it the current run.
func (s *Store) Save(snap Snapshot) error {
	if snap.RunID == "" {
		return errors.New("snapshot without run id")
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(runPrefix+snap.RunID), data); err != nil {
			return err
		}
		return txn.Set([]byte(currentKey), []byte(snap.RunID))
	})
}

// Load returns the current run, or ErrNoSnapshot.
func (s *Store) Load() (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(currentKey))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return get(txn, string(id), &snap)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Snapshot{}, ErrNoSnapshot
	}
	return snap, err
}

// Get returns the cached snapshot of runID.
func (s *Store) Get(runID string) (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, runID, &snap)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Snapshot{}, ErrNoSnapshot
	}
	return snap, err
}

// List returns every cached run, most recently saved first.
func (s *Store) List() ([]Snapshot, error) {
	var out []Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var snap Snapshot
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &snap) }); err != nil {
				return err
			}
			out = append(out, snap)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, err
}

// Evict drops runID from the cache, or every cached run when runID is
// empty. Eviction only forgets local state; it never touches the run.
func (s *Store) Evict(runID string) error {
	if runID == "" {
		return s.db.DropAll()
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(runPrefix + runID)); err != nil {
			return err
		}
		item, err := txn.Get([]byte(currentKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		cur, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(cur) == runID {
			return txn.Delete([]byte(currentKey))
		}
		return nil
	})
}

func get(txn *badger.Txn, runID string, snap *Snapshot) error {
	item, err := txn.Get([]byte(runPrefix + runID))
	if err != nil {
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, snap)
	})
}
