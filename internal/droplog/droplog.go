// Package droplog persists dropped ingestion events to SQLite for operator
// inspection. Dropping is normal operation, so every write here is best
// effort: a failed insert is logged by the caller and the event stays dropped.
package droplog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"meshmap/server/internal/model"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database holding dropped events.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures the dropped_events table exists.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS dropped_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		payload TEXT,
		reason TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	);`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Insert records a dropped event.
func (s *Store) Insert(ctx context.Context, e model.DroppedEvent) error {
	if s.db == nil {
		return fmt.Errorf("drop log not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO dropped_events (topic, payload, reason) VALUES (?, ?, ?);`,
		e.Topic,
		e.Payload,
		e.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert dropped event: %w", err)
	}
	return nil
}

// Recent returns the most recent dropped events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.DroppedEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("drop log not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT topic, payload, reason, created_at
		 FROM dropped_events
		 ORDER BY id DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query dropped events: %w", err)
	}
	defer rows.Close()

	events := make([]model.DroppedEvent, 0, limit)
	for rows.Next() {
		var e model.DroppedEvent
		var payload sql.NullString
		if err := rows.Scan(&e.Topic, &payload, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dropped event: %w", err)
		}
		e.Payload = payload.String
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dropped events: %w", err)
	}

	return events, nil
}

// PruneBefore removes dropped events recorded before the cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) error {
	if s.db == nil {
		return fmt.Errorf("drop log not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`DELETE FROM dropped_events WHERE created_at < ?;`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("prune dropped events: %w", err)
	}
	return nil
}
