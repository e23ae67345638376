package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/converso/converso-relay/internal/transcript"
)

// Store implements transcript.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite journal at the given path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create transcript directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_sid TEXT NOT NULL DEFAULT '',
	run_sid TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','failed','timeout','aborted','upstream_error')),
	messages INTEGER NOT NULL,
	poll_attempts INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health probes.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Record inserts a new exchange entry.
func (s *Store) Record(ctx context.Context, entry transcript.Entry) error {
	if !entry.Outcome.Valid() {
		return fmt.Errorf("invalid outcome %q", entry.Outcome)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO exchanges(conversation_sid, run_sid, outcome, messages, poll_attempts, latency_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		entry.ConversationSID,
		entry.RunSID,
		string(entry.Outcome),
		entry.Messages,
		entry.PollAttempts,
		entry.LatencyMS,
		created,
	)
	return err
}

// ListRecent returns the latest journal entries, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]transcript.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_sid, run_sid, outcome, messages, poll_attempts, latency_ms, created_at
FROM exchanges
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []transcript.Entry
	for rows.Next() {
		var e transcript.Entry
		var outcome string
		if err := rows.Scan(&e.ID, &e.ConversationSID, &e.RunSID, &outcome, &e.Messages, &e.PollAttempts, &e.LatencyMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Outcome = transcript.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
