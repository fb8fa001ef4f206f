// Package audit keeps a durable, append-only history of SASL attempt
// outcomes: which server, which mechanism, whether it succeeded, and
// why not if it didn't. It is intentionally disconnected from
// sasl.Session — nothing here is ever read back into a live session;
// it is a write-once operator log, not session state.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
	_ "modernc.org/sqlite"
)

// Attempt is one completed SASL exchange, written once after a
// Session reaches a terminal state with an emitted outcome.
type Attempt struct {
	ID        uuid.UUID
	Server    string
	Mechanism string
	Success   bool
	Reason    string
	At        time.Time
}

// Log persists Attempts to a sqlite database and keeps a bounded
// in-memory view of the latest ones, oldest first, for callers that want recent
// history without a query (a connection status panel, say).
type Log struct {
	db *sql.DB

	recentLimit int
	recent      []Attempt
}

// Open opens (creating if necessary) the sqlite database at path.
// Pass ":memory:" for an ephemeral, process-local log.
func Open(path string, recentLimit int) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sasl_attempts(
		id TEXT PRIMARY KEY,
		server TEXT NOT NULL,
		mechanism TEXT NOT NULL,
		success INTEGER NOT NULL,
		reason TEXT NOT NULL,
		at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}

	return &Log{db: db, recentLimit: recentLimit}, nil
}

func (l *Log) Close() error { return l.db.Close() }

// Record writes one Attempt and updates the in-memory recent window.
func (l *Log) Record(ctx context.Context, a Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.At.IsZero() {
		a.At = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO sasl_attempts(id, server, mechanism, success, reason, at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.Server, a.Mechanism, boolToInt(a.Success), a.Reason, a.At.Unix(),
	)
	if err != nil {
		return err
	}

	l.recent = append(l.recent, a)
	if l.recentLimit > 0 && len(l.recent) > l.recentLimit {
		// drop the oldest entries so recent stays bounded; slices.Delete
		// keeps this a single allocation-free shift instead of a
		// manual re-slice copy.
		overflow := len(l.recent) - l.recentLimit
		l.recent = slices.Delete(l.recent, 0, overflow)
	}
	return nil
}

// Recent returns the most recently recorded attempts, oldest first,
// without touching the database.
func (l *Log) Recent() []Attempt { return slices.Clone(l.recent) }

// ForServer queries the full durable history for one server.
func (l *Log) ForServer(ctx context.Context, server string) ([]Attempt, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, server, mechanism, success, reason, at FROM sasl_attempts WHERE server = ? ORDER BY at ASC`,
		server,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var id string
		var success int
		var at int64
		if err := rows.Scan(&id, &a.Server, &a.Mechanism, &success, &a.Reason, &at); err != nil {
			return nil, err
		}
		a.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		a.Success = success != 0
		a.At = time.Unix(at, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
