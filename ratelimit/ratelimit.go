// Package ratelimit enforces per-route, per-actor request budgets over a
// fixed wall-clock minute.
//
// Counters live in a cache.Store keyed rl:<route>:<actor>:<minute>. When the
// store implements cache.Incrementer the count is atomic; otherwise the
// limiter reads then writes, and concurrent requests in the same window can
// both be admitted past the limit.
//
// Route limits come from three places, highest priority first: rows of the
// rate_limits table (reloaded every minute), the static map passed in
// Config.Routes, and the default given to Check.
package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hazyhaar/kseo/cache"
)

// Window is the length of a rate limit window.
const Window = 60 * time.Second

// Schema is the rate_limits rule table. window_seconds is kept for
// compatibility with existing rule rows; the window is always one minute.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);
`

// Rule is a per-route override.
type Rule struct {
	MaxRequests int
	Enabled     bool
}

// Decision is the outcome of a Check. A rejection is a Decision with
// Allowed false, never an error.
type Decision struct {
	Allowed    bool
	Limit      int
	Count      int
	Remaining  int
	RetryAfter int // seconds; 0 when allowed
	Reset      time.Time
	Headers    map[string]string
}

// Bucket describes one counter.
type Bucket struct {
	Route     string
	Actor     string
	Window    int64
	Count     int64
	ExpiresAt time.Time
}

// Key returns the cache key of the bucket.
func (b Bucket) Key() string {
	return fmt.Sprintf("rl:%s:%s:%d", b.Route, b.Actor, b.Window)
}

// Config configures a Limiter.
type Config struct {
	Store  cache.Store
	DB     *sql.DB        // optional rate_limits table
	Routes map[string]int // static overrides, route -> per-minute limit
	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Store == nil {
		c.Store = cache.NewMemory()
	}
}

// Limiter checks request budgets.
type Limiter struct {
	store  cache.Store
	db     *sql.DB
	static map[string]int
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	rules map[string]Rule
}

// New creates a Limiter. If cfg.DB is set the rule table is loaded once
// immediately; call StartReloader to keep it fresh.
func New(cfg Config) *Limiter {
	cfg.defaults()
	l := &Limiter{
		store:  cfg.Store,
		db:     cfg.DB,
		static: cfg.Routes,
		logger: cfg.Logger,
		now:    cfg.Now,
		rules:  make(map[string]Rule),
	}
	if l.db != nil {
		l.Reload(context.Background())
	}
	return l
}

// Init creates the rate_limits table.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// StartReloader reloads the rule table every 60s until done is closed.
func (l *Limiter) StartReloader(done <-chan struct{}) {
	if l.db == nil {
		return
	}
	t := time.NewTicker(60 * time.Second)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				l.Reload(context.Background())
			}
		}
	}()
}

// Reload reads the rule table. On error the previous rules are kept.
func (l *Limiter) Reload(ctx context.Context) {
	if l.db == nil {
		return
	}
	rows, err := l.db.QueryContext(ctx, `SELECT endpoint, max_requests, enabled FROM rate_limits`)
	if err != nil {
		l.logger.Warn("ratelimit: failed to reload rules", "error", err)
		return
	}
	defer rows.Close()

	rules := make(map[string]Rule)
	for rows.Next() {
		var endpoint string
		var r Rule
		var enabled int
		if err := rows.Scan(&endpoint, &r.MaxRequests, &enabled); err != nil {
			continue
		}
		r.Enabled = enabled == 1
		rules[endpoint] = r
	}

	l.mu.Lock()
	l.rules = rules
	l.mu.Unlock()

	l.logger.Debug("ratelimit: rules reloaded", "count", len(rules))
}

// Limit resolves the per-minute limit for route. ok is false when a
// disabled rule exempts the route.
func (l *Limiter) Limit(route string, defaultLimit int) (limit int, ok bool) {
	l.mu.RLock()
	r, found := l.rules[route]
	l.mu.RUnlock()
	if found {
		if !r.Enabled {
			return 0, false
		}
		return r.MaxRequests, true
	}
	if n, found := l.static[route]; found {
		return n, true
	}
	return defaultLimit, true
}

// Check counts one request by actor on route and reports whether it is
// within the limit. Storage errors are logged and the request is allowed.
func (l *Limiter) Check(ctx context.Context, route, actor string, defaultLimit int) Decision {
	now := l.now()
	window := now.Unix() / 60
	reset := time.Unix((window+1)*60, 0)
	left := int(reset.Unix() - now.Unix())
	if left < 1 {
		left = 1
	}

	limit, enforced := l.Limit(route, defaultLimit)
	if !enforced {
		return Decision{Allowed: true, Reset: reset, Headers: map[string]string{}}
	}

	b := Bucket{Route: route, Actor: actor, Window: window, ExpiresAt: reset}
	count, err := l.incr(ctx, b.Key(), time.Duration(left)*time.Second)
	if err != nil {
		l.logger.Warn("ratelimit: counter store failed, allowing", "route", route, "actor", actor, "error", err)
		return decide(limit, 0, left, reset)
	}
	d := decide(limit, int(count), left, reset)
	if !d.Allowed {
		l.logger.Info("ratelimit: request blocked", "route", route, "actor", actor, "count", count, "limit", limit)
	}
	return d
}

func (l *Limiter) incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if inc, ok := l.store.(cache.Incrementer); ok {
		return inc.Incr(ctx, key, ttl)
	}
	v, _, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	v++
	if err := l.store.Set(ctx, key, v, ttl); err != nil {
		return 0, err
	}
	return v, nil
}

func decide(limit, count, left int, reset time.Time) Decision {
	d := Decision{
		Allowed: count <= limit,
		Limit:   limit,
		Count:   count,
		Reset:   reset,
	}
	d.Remaining = limit - count
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = left
	}
	d.Headers = map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(limit),
		"X-RateLimit-Remaining": strconv.Itoa(d.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
	}
	if !d.Allowed {
		d.Headers["Retry-After"] = strconv.Itoa(d.RetryAfter)
	}
	return d
}
