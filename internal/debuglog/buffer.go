// Package debuglog keeps the most recent log records in memory so they can
// be read back over HTTP.
package debuglog

import (
	"log/slog"
	"sync"
	"time"
)

type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer is a fixed size ring of entries. Once full, each append evicts
// the oldest entry.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &Buffer{entries: make([]Entry, capacity)}
}

func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.entries)
	}
	return b.next
}

func (b *Buffer) Cap() int {
	return len(b.entries)
}

// Entries returns up to limit entries at or above minLevel, oldest first.
// A limit of zero or less means no limit.
func (b *Buffer) Entries(limit int, minLevel slog.Level) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ordered := make([]Entry, 0, len(b.entries))
	if b.full {
		ordered = append(ordered, b.entries[b.next:]...)
	}
	ordered = append(ordered, b.entries[:b.next]...)

	out := ordered[:0]
	for _, e := range ordered {
		if levelOf(e.Level) >= minLevel {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	clear(b.entries)
	b.next = 0
	b.full = false
	b.mu.Unlock()
}

func levelOf(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
