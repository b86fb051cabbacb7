// Package store implements the retention-bounded JSON-file record logs backing
// the marker and message feeds. A log is a mutex-guarded in-memory slice
// mirrored to disk as a pretty-printed JSON array; every mutation rewrites the
// whole file. Store sizes are bounded by the retention window, so the rewrite
// stays cheap.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Retention is how long a record survives before pruning removes it.
const Retention = 7 * 24 * time.Hour

// Entry is a record a Log can hold. WithID returns a copy with the id set;
// EntryTime is the RFC 3339 timestamp the retention window applies to.
type Entry[T any] interface {
	WithID(id string) T
	EntryTime() string
}

// Log is an append-only, time-bounded, disk-persisted record collection.
type Log[T Entry[T]] struct {
	mu      sync.Mutex
	path    string
	logger  *slog.Logger
	entries []T
}

// Open loads the log at path, creating parent directories as needed. A missing
// or malformed file yields an empty log, never an error; only an unusable
// parent directory is fatal.
func Open[T Entry[T]](path string, logger *slog.Logger) (*Log[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	l := &Log[T]{path: path, logger: logger, entries: make([]T, 0)}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("record log unreadable, starting empty", "path", path, "error", err)
		}
		return l, nil
	}

	if err := json.Unmarshal(data, &l.entries); err != nil {
		logger.Warn("record log malformed, starting empty", "path", path, "error", err)
		l.entries = make([]T, 0)
	}
	if l.entries == nil {
		l.entries = make([]T, 0)
	}

	return l, nil
}

// Append assigns an id to the record, adds it, prunes expired records, and
// rewrites the file. The returned record carries the assigned id. A persist
// failure is returned but the in-memory state keeps the record.
func (l *Log[T]) Append(record T) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	record = record.WithID(newID(now))
	l.entries = append(l.entries, record)
	l.pruneLocked(now)

	return record, l.persistLocked()
}

// Prune removes every record older than the retention window, rewriting the
// file only if something was removed.
func (l *Log[T]) Prune() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.pruneLocked(time.Now()) {
		return nil
	}
	return l.persistLocked()
}

// Snapshot prunes, then returns a copy of the log sorted by time descending.
// The copy is always valid; a non-nil error reports a failed prune persist.
func (l *Log[T]) Snapshot() ([]T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	if l.pruneLocked(time.Now()) {
		err = l.persistLocked()
	}

	out := make([]T, len(l.entries))
	copy(out, l.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return parseEntryTime(out[i].EntryTime()).After(parseEntryTime(out[j].EntryTime()))
	})

	return out, err
}

// Len returns the number of records currently held.
func (l *Log[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Log[T]) pruneLocked(now time.Time) bool {
	cutoff := now.Add(-Retention)

	kept := l.entries[:0]
	for _, entry := range l.entries {
		// Records with unparsable timestamps age out immediately.
		if !parseEntryTime(entry.EntryTime()).Before(cutoff) {
			kept = append(kept, entry)
		}
	}

	changed := len(kept) != len(l.entries)
	l.entries = kept
	return changed
}

func (l *Log[T]) persistLocked() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record log: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write record log: %w", err)
	}
	return nil
}

func parseEntryTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, value)
	}
	return t
}

func newID(now time.Time) string {
	suffix := make([]byte, 6)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(suffix))
}
