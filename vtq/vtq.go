// Package vtq is a visibility-timeout job queue stored in SQLite.
//
// A claimed job is hidden for the visibility duration. Ack deletes it; if the
// consumer dies the job becomes visible again and is redelivered. A job can
// also be published with a future visible_at, which is how kseo schedules
// batch resumptions and periodic ticks without a separate timer table.
//
//	CREATE TABLE vtq_jobs (
//	    id         TEXT PRIMARY KEY,
//	    queue      TEXT NOT NULL DEFAULT '',
//	    payload    BLOB,
//	    visible_at INTEGER NOT NULL DEFAULT 0, -- unix ms
//	    created_at INTEGER NOT NULL,           -- unix ms
//	    attempts   INTEGER NOT NULL DEFAULT 0
//	);
package vtq

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/kseo/dbopen"
)

// Schema creates the queue table.
const Schema = `
CREATE TABLE IF NOT EXISTS vtq_jobs (
    id         TEXT PRIMARY KEY,
    queue      TEXT NOT NULL DEFAULT '',
    payload    BLOB,
    visible_at INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    attempts   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_vtq_visible ON vtq_jobs (queue, visible_at);
`

// Job is a row in the queue.
type Job struct {
	ID        string
	Queue     string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Options configures a queue handle.
type Options struct {
	Queue string
	// Visibility is how long a claimed job stays hidden. Default: 30s.
	Visibility time.Duration
	// PollInterval is the Run loop delay. Default: 1s.
	PollInterval time.Duration
	// RetryDelay hides a nacked job before redelivery. Default: 0.
	RetryDelay time.Duration
	// MaxAttempts discards a job after that many deliveries. 0 = unlimited.
	MaxAttempts int
	Logger      *slog.Logger
	Now         func() time.Time
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Q is a handle on one named queue.
type Q struct {
	db   *sql.DB
	opts Options
}

// New returns a queue handle. The table comes from Schema (dbopen.WithSchema)
// or EnsureTable.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// Name returns the queue name.
func (q *Q) Name() string { return q.opts.Queue }

// EnsureTable creates vtq_jobs if needed.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, Schema)
	return err
}

// Publish inserts a job that is visible now.
func (q *Q) Publish(ctx context.Context, id string, payload []byte) error {
	return q.PublishAt(ctx, id, payload, q.opts.Now())
}

// PublishAt inserts a job that becomes visible at at. Publishing an id that
// already exists is a no-op, so a resumption scheduled twice runs once.
func (q *Q) PublishAt(ctx context.Context, id string, payload []byte, at time.Time) error {
	_, err := dbopen.Exec(ctx, q.db,
		`INSERT OR IGNORE INTO vtq_jobs (id, queue, payload, visible_at, created_at) VALUES (?,?,?,?,?)`,
		id, q.opts.Queue, payload, at.UnixMilli(), q.opts.Now().UnixMilli())
	return err
}

// Claim hides the oldest visible job and returns it, or nil when none is
// visible.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	now := q.opts.Now()
	row := q.db.QueryRowContext(ctx, `
		UPDATE vtq_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM vtq_jobs
			WHERE queue = ? AND visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, queue, payload, visible_at, created_at, attempts`,
		now.Add(q.opts.Visibility).UnixMilli(), q.opts.Queue, now.UnixMilli())

	var j Job
	var visAt, creAt int64
	err := row.Scan(&j.ID, &j.Queue, &j.Payload, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a processed job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, q.db, `DELETE FROM vtq_jobs WHERE id = ? AND queue = ?`, id, q.opts.Queue)
	return err
}

// Nack makes a job visible again after RetryDelay.
func (q *Q) Nack(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, q.db,
		`UPDATE vtq_jobs SET visible_at = ? WHERE id = ? AND queue = ?`,
		q.opts.Now().Add(q.opts.RetryDelay).UnixMilli(), id, q.opts.Queue)
	return err
}

// Len returns the number of jobs in the queue, visible or not.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vtq_jobs WHERE queue = ?`, q.opts.Queue).Scan(&n)
	return n, err
}

// NextVisible returns when the earliest job becomes visible, or the zero
// time when the queue is empty.
func (q *Q) NextVisible(ctx context.Context) (time.Time, error) {
	var ms sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		`SELECT MIN(visible_at) FROM vtq_jobs WHERE queue = ?`, q.opts.Queue).Scan(&ms)
	if err != nil || !ms.Valid {
		return time.Time{}, err
	}
	return time.UnixMilli(ms.Int64), nil
}

// Purge deletes every job in the queue.
func (q *Q) Purge(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, q.db, `DELETE FROM vtq_jobs WHERE queue = ?`, q.opts.Queue)
	return err
}

// Handler processes a job. nil acks, an error nacks.
type Handler func(ctx context.Context, job *Job) error

// Run claims and handles jobs until ctx is cancelled.
func (q *Q) Run(ctx context.Context, handler Handler) {
	log := q.opts.Logger
	log.Info("vtq: consumer started", "queue", q.opts.Queue, "visibility", q.opts.Visibility, "poll", q.opts.PollInterval)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("vtq: consumer stopped", "queue", q.opts.Queue)
			return
		case <-ticker.C:
			q.Drain(ctx, handler)
		}
	}
}

// Drain handles every currently visible job and returns how many were
// handled successfully.
func (q *Q) Drain(ctx context.Context, handler Handler) int {
	log := q.opts.Logger
	done := 0
	for ctx.Err() == nil {
		job, err := q.Claim(ctx)
		if err != nil {
			log.Warn("vtq: claim failed", "error", err, "queue", q.opts.Queue)
			return done
		}
		if job == nil {
			return done
		}
		if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
			log.Warn("vtq: job exceeded max attempts, discarding",
				"id", job.ID, "attempts", job.Attempts, "queue", q.opts.Queue)
			_ = q.Ack(ctx, job.ID)
			continue
		}
		if err := handler(ctx, job); err != nil {
			log.Warn("vtq: handler failed, nacking", "id", job.ID, "error", err, "queue", q.opts.Queue)
			_ = q.Nack(context.Background(), job.ID)
			continue
		}
		_ = q.Ack(context.Background(), job.ID)
		done++
	}
	return done
}
