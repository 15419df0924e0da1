// Package audit records who did what to kseo: API key and maintenance
// changes, batch triggers, saved results and MCP tool calls. Entries are
// written asynchronously in batches.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/kseo/dbopen"
	"github.com/hazyhaar/kseo/idgen"
	"github.com/hazyhaar/kseo/kit"
)

// Schema is the audit_log table.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    entry_id      TEXT PRIMARY KEY,
    timestamp     INTEGER NOT NULL,
    actor         TEXT NOT NULL,
    action        TEXT NOT NULL,
    transport     TEXT NOT NULL,
    parameters    TEXT NOT NULL DEFAULT '{}',
    status        TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action, timestamp DESC);
`

// Entry is one audited action. Timestamp is unix ms.
type Entry struct {
	EntryID      string `json:"entry_id"`
	Timestamp    int64  `json:"timestamp"`
	Actor        string `json:"actor"`
	Action       string `json:"action"`
	Transport    string `json:"transport"` // http, mcp, cli
	Parameters   string `json:"parameters"`
	Status       string `json:"status"` // success, error
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// Filter selects entries for Query. Zero values mean no filter.
type Filter struct {
	Actor  string
	Action string
	Limit  int // default 100
	Offset int
}

// Logger persists entries.
type Logger struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger

	ch        chan *Entry
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(l *Logger) { l.now = now } }

// WithLogger sets the slog logger. nil keeps slog.Default().
func WithLogger(lg *slog.Logger) Option {
	return func(l *Logger) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// New starts an async audit logger. A bufferSize of 0 uses 256.
func New(db *sql.DB, bufferSize int, opts ...Option) *Logger {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	l := &Logger{
		db:     db,
		newID:  idgen.Audit,
		now:    time.Now,
		logger: slog.Default(),
		ch:     make(chan *Entry, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Init creates the audit_log table.
func (l *Logger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, Schema)
	return err
}

// Log inserts an entry synchronously.
func (l *Logger) Log(ctx context.Context, e *Entry) error {
	l.fillDefaults(e)
	return l.insert(ctx, e)
}

// LogAsync queues an entry. A full buffer falls back to a synchronous insert.
func (l *Logger) LogAsync(e *Entry) {
	l.fillDefaults(e)
	select {
	case l.ch <- e:
	default:
		l.logger.Warn("audit: buffer full, sync fallback", "action", e.Action)
		if err := l.insert(context.Background(), e); err != nil {
			l.logger.Error("audit: sync fallback failed", "error", err)
		}
	}
}

// Record builds an entry for action from the actor in ctx.
func (l *Logger) Record(ctx context.Context, transport, action string, params any, err error, d time.Duration) {
	e := &Entry{
		Actor:      kit.GetActor(ctx),
		Action:     action,
		Transport:  transport,
		DurationMs: d.Milliseconds(),
	}
	if params != nil {
		if b, mErr := json.Marshal(params); mErr == nil {
			e.Parameters = string(b)
		}
	}
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	l.logger.Debug("audit: record", "actor", e.Actor, "action", action,
		"auth", kit.CallerFrom(ctx).AuthMethod, "trace_id", kit.GetTraceID(ctx))
	l.LogAsync(e)
}

// Middleware audits every call of an endpoint.
func Middleware(l *Logger, transport, action string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := l.now()
			resp, err := next(ctx, req)
			l.Record(ctx, transport, action, req, err, l.now().Sub(start))
			return resp, err
		}
	}
}

// Query returns entries newest first.
func (l *Logger) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	q := `SELECT entry_id, timestamp, actor, action, transport, parameters,
		status, error_message, duration_ms FROM audit_log WHERE 1=1`
	var args []any
	if f.Actor != "" {
		q += " AND actor = ?"
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		q += " AND action = ?"
		args = append(args, f.Action)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC, entry_id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EntryID, &e.Timestamp, &e.Actor, &e.Action, &e.Transport,
			&e.Parameters, &e.Status, &e.ErrorMessage, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than retention.
func (l *Logger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", l.now().Add(-retention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes queued entries and stops the writer. Safe to call twice.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() { close(l.stop) })
	<-l.done
	return nil
}

func (l *Logger) fillDefaults(e *Entry) {
	if e.EntryID == "" {
		e.EntryID = l.newID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = l.now().UnixMilli()
	}
	if e.Actor == "" {
		e.Actor = "anonymous"
	}
	if e.Transport == "" {
		e.Transport = "http"
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
	if e.Status == "" {
		e.Status = "success"
		if e.ErrorMessage != "" {
			e.Status = "error"
		}
	}
}

const insertSQL = `INSERT INTO audit_log
	(entry_id, timestamp, actor, action, transport, parameters, status, error_message, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (l *Logger) insert(ctx context.Context, e *Entry) error {
	_, err := dbopen.Exec(ctx, l.db, insertSQL,
		e.EntryID, e.Timestamp, e.Actor, e.Action, e.Transport,
		e.Parameters, e.Status, e.ErrorMessage, e.DurationMs)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func (l *Logger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	batch := make([]*Entry, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				if _, err := tx.ExecContext(ctx, insertSQL,
					e.EntryID, e.Timestamp, e.Actor, e.Action, e.Transport,
					e.Parameters, e.Status, e.ErrorMessage, e.DurationMs); err != nil {
					return fmt.Errorf("insert %s: %w", e.EntryID, err)
				}
			}
			return nil
		})
		if err != nil {
			l.logger.Error("audit: flush failed", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= cap(batch) {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
