package transcript

import (
	"context"
	"strings"
	"time"
)

// Outcome classifies how a chat exchange ended.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeFailed        Outcome = "failed"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeAborted       Outcome = "aborted"
	OutcomeUpstreamError Outcome = "upstream_error"
)

// Valid reports whether the outcome is one of the known values.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeFailed, OutcomeTimeout, OutcomeAborted, OutcomeUpstreamError:
		return true
	default:
		return false
	}
}

// Entry is one append-only journal row per chat exchange. Entries are never
// read back into the chat flow; the journal exists for local diagnostics.
type Entry struct {
	ID              int64     `json:"id"`
	ConversationSID string    `json:"conversation_sid"`
	RunSID          string    `json:"run_sid"`
	Outcome         Outcome   `json:"outcome"`
	Messages        int       `json:"messages"`
	PollAttempts    int       `json:"poll_attempts"`
	LatencyMS       int64     `json:"latency_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store defines persistence behaviour for the exchange journal.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// IsPostgres reports whether the configured transcript path selects the
// Postgres backend rather than a SQLite file path.
func IsPostgres(path string) bool {
	return strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://")
}
