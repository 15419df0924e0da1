// Package dbopen opens the kseo SQLite database. Every handle gets the same
// pragmas (WAL, busy timeout, foreign keys) and, optionally, the schemas of
// the components that share the file.
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/kseo.db",
//	    dbopen.WithMkdirAll(),
//	    dbopen.WithSchema(store.Schema, audit.Schema))
//
// Tests use OpenMemory, which closes the handle on cleanup.
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// DefaultBusyTimeout is the PRAGMA busy_timeout applied when no option
// overrides it, in milliseconds.
const DefaultBusyTimeout = 10_000

type options struct {
	busyTimeout int
	mkdirAll    bool
	schemas     []string
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Values <= 0 keep
// DefaultBusyTimeout.
func WithBusyTimeout(ms int) Option {
	return func(o *options) {
		if ms > 0 {
			o.busyTimeout = ms
		}
	}
}

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// WithSchema runs each statement block once the pragmas are set, in order.
// Blocks must be idempotent (CREATE ... IF NOT EXISTS).
func WithSchema(schemas ...string) Option {
	return func(o *options) { o.schemas = append(o.schemas, schemas...) }
}

// Open opens (creating if needed) the database at path with the "sqlite"
// driver registered by modernc.org/sqlite.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeout: DefaultBusyTimeout}
	for _, fn := range opts {
		fn(&o)
	}

	if o.mkdirAll && !isMemory(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: create dir for %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if err := setup(db, &o); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens a private in-memory database for a test. A ":memory:"
// database lives in one connection, so the pool is pinned to one.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func setup(db *sql.DB, o *options) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	for i, s := range o.schemas {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("dbopen: schema %d: %w", i, err)
		}
	}
	return db.Ping()
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
