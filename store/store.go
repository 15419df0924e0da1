// Package store persists analysis results, the append-only event log and
// API keys in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/kseo/ratelimit"
)

var (
	// ErrInvalidSubject is returned when a result has no subject id.
	ErrInvalidSubject = errors.New("store: subject id is required")
	// ErrInvalidEventType is returned when an event has no type.
	ErrInvalidEventType = errors.New("store: event type is required")
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("store: not found")
)

// Schema creates every kseo table. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS results (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    subject_id      TEXT NOT NULL,
    seed            TEXT NOT NULL DEFAULT '',
    keywords_json   TEXT NOT NULL DEFAULT '[]',
    analysis_json   TEXT NOT NULL DEFAULT '{}',
    assignment_json TEXT NOT NULL DEFAULT '{}',
    score_before    INTEGER NOT NULL DEFAULT 0,
    score_after     INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_subject ON results(subject_id, created_at);

CREATE TABLE IF NOT EXISTS events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    type         TEXT NOT NULL,
    subject_id   TEXT NOT NULL DEFAULT '',
    related_json TEXT NOT NULL DEFAULT '[]',
    details_json TEXT NOT NULL DEFAULT '{}',
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, created_at);
CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject_id, created_at);

CREATE TABLE IF NOT EXISTS api_keys (
    id           TEXT PRIMARY KEY,
    label        TEXT NOT NULL DEFAULT '',
    key_hash     TEXT NOT NULL UNIQUE,
    scope        TEXT NOT NULL DEFAULT 'api',
    status       TEXT NOT NULL DEFAULT 'active',
    created_at   INTEGER NOT NULL,
    last_used_at INTEGER NOT NULL DEFAULT 0
);
`

// Store wraps the kseo database.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

// New returns a Store over db.
func New(db *sql.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

// Init creates the store tables and the rate_limits rule table.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, Schema); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, ratelimit.Schema)
	return err
}

func (s *Store) nowMillis() int64 {
	if s.Now == nil {
		return time.Now().UnixMilli()
	}
	return s.Now().UnixMilli()
}
