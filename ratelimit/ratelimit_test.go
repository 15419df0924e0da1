package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kseo/cache"
	"github.com/hazyhaar/kseo/dbopen"
	"github.com/hazyhaar/kseo/kit"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestCheck_WindowBoundary(t *testing.T) {
	// WHAT: limit=5 admits five calls, rejects the sixth, resets next minute.
	// WHY: The window is the wall-clock minute, not a rolling window.
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_080, 0)} // 40s into a minute
	l := New(Config{Now: c.now})

	for i := 1; i <= 5; i++ {
		d := l.Check(ctx, "analyze", "ip:1.2.3.4", 5)
		if !d.Allowed || d.RetryAfter != 0 {
			t.Fatalf("call %d: allowed=%v retry=%d", i, d.Allowed, d.RetryAfter)
		}
		if d.Remaining != 5-i {
			t.Fatalf("call %d: remaining=%d", i, d.Remaining)
		}
	}
	d := l.Check(ctx, "analyze", "ip:1.2.3.4", 5)
	if d.Allowed {
		t.Fatal("6th call should be rejected")
	}
	if d.RetryAfter != 20 {
		t.Fatalf("RetryAfter = %d, want 20", d.RetryAfter)
	}
	if d.Headers["Retry-After"] != "20" || d.Headers["X-RateLimit-Remaining"] != "0" {
		t.Fatalf("headers = %v", d.Headers)
	}

	c.t = c.t.Add(20 * time.Second)
	d = l.Check(ctx, "analyze", "ip:1.2.3.4", 5)
	if !d.Allowed || d.Count != 1 {
		t.Fatalf("next window: allowed=%v count=%d", d.Allowed, d.Count)
	}
}

func TestCheck_ActorsIndependent(t *testing.T) {
	ctx := context.Background()
	l := New(Config{})
	l.Check(ctx, "r", "a", 1)
	if d := l.Check(ctx, "r", "b", 1); !d.Allowed {
		t.Fatal("actor b should have its own bucket")
	}
	if d := l.Check(ctx, "r", "a", 1); d.Allowed {
		t.Fatal("actor a should be limited")
	}
}

func TestCheck_ConcurrentAtomic(t *testing.T) {
	// WHAT: With an atomic store exactly limit requests are admitted.
	// WHY: Concurrent increments in one window must not over-admit.
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := New(Config{Now: c.now, Store: cache.NewMemory()})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check(ctx, "r", "a", 30).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 30 {
		t.Fatalf("allowed = %d, want 30", allowed)
	}
}

func TestCheck_FallbackStore(t *testing.T) {
	// WHAT: The non-atomic SQLite store still enforces the limit sequentially.
	ctx := context.Background()
	db := dbopen.OpenMemory(t)
	c := &clock{t: time.Unix(1_700_000_099, 0)}
	s := cache.NewSQLite(db).WithClock(c.now)
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	l := New(Config{Store: s, Now: c.now})

	l.Check(ctx, "r", "a", 2)
	l.Check(ctx, "r", "a", 2)
	d := l.Check(ctx, "r", "a", 2)
	if d.Allowed || d.RetryAfter != 1 {
		t.Fatalf("allowed=%v retry=%d; want rejected with retry 1", d.Allowed, d.RetryAfter)
	}
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (int64, bool, error) {
	return 0, false, errors.New("down")
}
func (brokenStore) Set(context.Context, string, int64, time.Duration) error { return errors.New("down") }
func (brokenStore) Delete(context.Context, string) error                    { return nil }

func TestCheck_FailOpen(t *testing.T) {
	l := New(Config{Store: brokenStore{}})
	for i := 0; i < 3; i++ {
		if d := l.Check(context.Background(), "r", "a", 1); !d.Allowed {
			t.Fatal("store outage must not deny requests")
		}
	}
}

func TestLimit_Overrides(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, enabled) VALUES ('POST /api/v1/analyze', 3, 1)`)
	db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, enabled) VALUES ('GET /healthz', 1, 0)`)

	l := New(Config{DB: db, Routes: map[string]int{"POST /api/v1/analyze": 10, "GET /api/v1/events": 7}})

	cases := []struct {
		route   string
		want    int
		enforce bool
	}{
		{"POST /api/v1/analyze", 3, true}, // table beats static
		{"GET /api/v1/events", 7, true},
		{"GET /other", 60, true},
		{"GET /healthz", 0, false},
	}
	for _, tc := range cases {
		got, ok := l.Limit(tc.route, 60)
		if got != tc.want || ok != tc.enforce {
			t.Errorf("Limit(%q) = %d, %v; want %d, %v", tc.route, got, ok, tc.want, tc.enforce)
		}
	}

	db.Exec(`UPDATE rate_limits SET max_requests = 9 WHERE endpoint = 'POST /api/v1/analyze'`)
	l.Reload(context.Background())
	if got, _ := l.Limit("POST /api/v1/analyze", 60); got != 9 {
		t.Fatalf("after reload = %d, want 9", got)
	}
}

func TestMiddleware_429(t *testing.T) {
	l := New(Config{})
	h := l.Middleware(nil, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/v1/analyze", nil)
		req = req.WithContext(kit.WithActor(req.Context(), "key:abc"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(); rec.Code != http.StatusNoContent || rec.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("first: code=%d headers=%v", rec.Code, rec.Header())
	}
	rec := do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: code=%d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "rate limit exceeded" {
		t.Fatalf("body = %v", body)
	}
}
