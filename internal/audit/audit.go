// Package audit records a per-session diagnostic trail — tag lifecycle
// and phase transition events — in an in-process SQLite database opened
// against ":memory:". It never touches disk: the ledger lives and dies
// with the session, matching the "no persistence across process
// restarts" non-goal while still letting a caller introspect what a
// session did during its lifetime.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// EventType identifies what kind of session event was recorded.
type EventType string

const (
	EventTagReserved    EventType = "tag.reserved"
	EventTagResolved    EventType = "tag.resolved"
	EventPhaseEntered   EventType = "phase.entered"
	EventMailboxUpdated EventType = "mailbox.updated"
)

// Event is one row of the session audit ledger.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Session   string    `json:"session"`
	Action    EventType `json:"action"`
	Detail    string    `json:"detail"`
}

// Ledger records session events to an in-memory SQLite database. A nil
// *Ledger (from NewLedger with enabled=false) is safe to call Log/Recent
// on — every method degrades to a no-op, matching the optional,
// fire-and-forget nature of this supplemental feature.
type Ledger struct {
	db *sql.DB
}

// NewLedger opens a fresh in-memory database and creates its schema. If
// enabled is false, it returns (nil, nil) and every Ledger method on the
// resulting nil pointer becomes a no-op.
func NewLedger(enabled bool) (*Ledger, error) {
	if !enabled {
		return nil, nil
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("audit: open in-memory database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE session_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			session TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT
		);
		CREATE INDEX idx_session_log_session ON session_log(session);
		CREATE INDEX idx_session_log_action ON session_log(action);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Log records one event. Safe to call on a nil *Ledger.
func (l *Ledger) Log(ctx context.Context, session string, action EventType, detail string) error {
	if l == nil || l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO session_log (session, action, detail) VALUES (?, ?, ?)`,
		session, string(action), detail,
	)
	return err
}

// Recent returns the most recent events for session, newest first. Safe
// to call on a nil *Ledger, returning (nil, nil).
func (l *Ledger) Recent(ctx context.Context, session string, limit int) ([]Event, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, timestamp, session, action, detail FROM session_log
		 WHERE session = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		session, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Session, &e.Action, &detail); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the in-memory database. Safe to call on a nil *Ledger.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
