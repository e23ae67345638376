package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// register pgx stdlib driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/converso/converso-relay/internal/transcript"
)

// Store implements transcript.Store backed by PostgreSQL. Intended for
// deployments where several relay instances share one journal.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed journal using the provided DSN.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

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
	id BIGSERIAL PRIMARY KEY,
	conversation_sid TEXT NOT NULL DEFAULT '',
	run_sid TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','failed','timeout','aborted','upstream_error')),
	messages INTEGER NOT NULL,
	poll_attempts INTEGER NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
VALUES($1, $2, $3, $4, $5, $6, $7)`,
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
LIMIT $1`, limit)
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
