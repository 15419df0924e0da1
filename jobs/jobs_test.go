package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kseo/cache"
	"github.com/hazyhaar/kseo/dbopen"
	"github.com/hazyhaar/kseo/detect"
	"github.com/hazyhaar/kseo/sitemap"
	"github.com/hazyhaar/kseo/store"
	"github.com/hazyhaar/kseo/vtq"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fakeResolver struct {
	clock *clock
	step  time.Duration
	fail  map[string]bool
	calls []string
}

func (f *fakeResolver) Resolve(_ context.Context, url string) (sitemap.Page, error) {
	f.calls = append(f.calls, url)
	if f.clock != nil {
		f.clock.t = f.clock.t.Add(f.step)
	}
	if f.fail[url] {
		return sitemap.Page{}, errors.New("unreachable")
	}
	return sitemap.Page{
		URL:      url,
		Title:    "Best Engine Oil",
		Keywords: []string{"engine oil"},
		Text:     "Best Engine Oil for cheap cars. Buy Castrol today.",
	}, nil
}

type fakeAlerts struct{ calls int }

func (f *fakeAlerts) SendRecent(context.Context, time.Time) (int, error) {
	f.calls++
	return 1, nil
}

func urls(n int) sitemap.Static {
	var out sitemap.Static
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("https://x.test/p%d", i))
	}
	return out
}

func setup(t *testing.T, c *clock) (*store.Store, *vtq.Q) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s := store.New(db)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Now = c.now
	q := vtq.New(db, vtq.Options{Queue: QueueName, Now: c.now})
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s, q
}

func TestProcessBatch_CountBoundAndResume(t *testing.T) {
	// WHAT: 12 candidates with MaxURLs=10 leave 2 and schedule a resumption
	// 5 minutes later; the next run picks up exactly the remaining two.
	// WHY: The batch is chunked and self-resuming.
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s, q := setup(t, c)
	res := &fakeResolver{}
	r := New(Deps{Store: s, Discoverer: urls(12), Resolver: res, Queue: q}, Config{Now: c.now})

	if r.State() != Idle {
		t.Fatalf("initial state = %s", r.State())
	}
	rep, err := r.ProcessBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Processed != 10 || rep.Remaining != 2 || rep.State != Resumed || r.State() != Resumed {
		t.Fatalf("report = %+v", rep)
	}
	if !rep.ResumeAt.Equal(c.t.Add(5 * time.Minute)) {
		t.Fatalf("ResumeAt = %v", rep.ResumeAt)
	}
	if job, _ := q.Claim(ctx); job != nil {
		t.Fatal("resume job visible before delay")
	}
	c.t = c.t.Add(5 * time.Minute)
	job, _ := q.Claim(ctx)
	if job == nil || !strings.HasPrefix(job.ID, "resume_") {
		t.Fatalf("resume job = %+v", job)
	}

	res.calls = nil
	if err := r.Handle(ctx, job); err != nil {
		t.Fatal(err)
	}
	last := r.LastReport()
	if last.Processed != 2 || last.Remaining != 0 || r.State() != Completed {
		t.Fatalf("second run = %+v", last)
	}
	if len(res.calls) != 2 || res.calls[0] != "https://x.test/p10" {
		t.Fatalf("second run resolved %v", res.calls)
	}
}

func TestProcessBatch_TimeBudget(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s, q := setup(t, c)
	res := &fakeResolver{clock: c, step: 15 * time.Second}
	r := New(Deps{Store: s, Discoverer: urls(5), Resolver: res, Queue: q}, Config{Now: c.now})

	rep, err := r.ProcessBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Processed != 2 || rep.Remaining != 3 || rep.State != Resumed {
		t.Fatalf("report = %+v", rep)
	}
}

func TestProcessBatch_PersistsDefaultAssignment(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s, _ := setup(t, c)
	r := New(Deps{Store: s, Discoverer: urls(1), Resolver: &fakeResolver{}}, Config{Now: c.now})

	if _, err := r.ProcessBatch(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := s.LatestBySubject(ctx, "https://x.test/p0")
	if got == nil {
		t.Fatal("no result saved")
	}
	d := got.Analysis.Difficulty
	if got.Assignment.Score != 100-d || got.Assignment.URL != "https://x.test/p0" {
		t.Fatalf("assignment = %+v (difficulty %d)", got.Assignment, d)
	}
	if got.Assignment.Reasons["intent_match"] != 1 || got.Assignment.Reasons["difficulty"] != float64(d)/100 {
		t.Fatalf("reasons = %v", got.Assignment.Reasons)
	}
	if got.Seed != "engine oil" || len(got.Keywords) != 1 {
		t.Fatalf("result = %+v", got)
	}
}

func TestProcessBatch_FailedPageBacksOff(t *testing.T) {
	// WHAT: A page that fails to resolve is not retried on the next run.
	// WHY: Otherwise a dead URL would keep the batch resuming forever.
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s, _ := setup(t, c)
	res := &fakeResolver{fail: map[string]bool{"https://x.test/p1": true}}
	r := New(Deps{Store: s, Discoverer: urls(2), Resolver: res,
		Cache: cache.NewMemory().WithClock(c.now)}, Config{Now: c.now})

	rep, _ := r.ProcessBatch(ctx)
	if rep.Processed != 1 || rep.Failed != 1 || rep.State != Completed {
		t.Fatalf("first = %+v", rep)
	}
	rep, _ = r.ProcessBatch(ctx)
	if rep.Pending != 0 {
		t.Fatalf("second pending = %d, want 0", rep.Pending)
	}
}

func TestProcessBatch_DetectorsTriggerAlerts(t *testing.T) {
	// WHAT: Two pages sharing a keyword trigger a cannibalization event and
	// alerts are sent.
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s, _ := setup(t, c)
	mem := cache.NewMemory()
	al := &fakeAlerts{}
	r := New(Deps{
		Store:      s,
		Discoverer: urls(2),
		Resolver:   &fakeResolver{},
		Detectors: []Scanner{
			&detect.Cannibalization{Store: s, Cache: mem},
			&detect.Decay{Store: s, Cache: mem},
		},
		Alerts: al,
	}, Config{Now: c.now})

	rep, err := r.ProcessBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Events != 1 || al.calls != 1 || rep.AlertsSent != 1 {
		t.Fatalf("report = %+v, alert calls = %d", rep, al.calls)
	}
}

func TestProcessBatch_NoAlertsWithoutEvents(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s, _ := setup(t, c)
	al := &fakeAlerts{}
	r := New(Deps{Store: s, Discoverer: urls(1), Resolver: &fakeResolver{},
		Detectors: []Scanner{&detect.Decay{Store: s, Cache: cache.NewMemory()}}, Alerts: al}, Config{Now: c.now})
	r.ProcessBatch(ctx)
	if al.calls != 0 {
		t.Fatal("alerts sent without detector events")
	}
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Now()}
	s, q := setup(t, c)
	r := New(Deps{Store: s, Discoverer: urls(0), Resolver: &fakeResolver{}, Queue: q}, Config{Now: c.now})
	id, err := r.Enqueue(ctx, "manual")
	if err != nil || !strings.HasPrefix(id, "batch_") {
		t.Fatalf("Enqueue = %q, %v", id, err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("queue len = %d", n)
	}
}
