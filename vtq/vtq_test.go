package vtq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kseo/dbopen"
	"github.com/hazyhaar/kseo/vtq"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newQ(t *testing.T, opts vtq.Options) *vtq.Q {
	t.Helper()
	q := vtq.New(dbopen.OpenMemory(t), opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return q
}

func TestPublishAndClaim(t *testing.T) {
	ctx := context.Background()
	q := newQ(t, vtq.Options{Visibility: time.Second})

	if err := q.Publish(ctx, "j1", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: %v, %v", job, err)
	}
	if job.ID != "j1" || string(job.Payload) != "hello" || job.Attempts != 1 {
		t.Fatalf("job = %+v", job)
	}
	if again, _ := q.Claim(ctx); again != nil {
		t.Fatal("claimed job should be invisible")
	}
}

func TestPublishAt_Delayed(t *testing.T) {
	// WHAT: A job published 5 minutes ahead is invisible until then.
	// WHY: Batch resumption relies on delayed visibility.
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	q := newQ(t, vtq.Options{Now: c.now})

	if err := q.PublishAt(ctx, "resume", nil, c.t.Add(5*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if j, _ := q.Claim(ctx); j != nil {
		t.Fatal("job visible too early")
	}
	next, _ := q.NextVisible(ctx)
	if !next.Equal(c.t.Add(5 * time.Minute)) {
		t.Fatalf("NextVisible = %v", next)
	}
	c.t = c.t.Add(5 * time.Minute)
	if j, _ := q.Claim(ctx); j == nil || j.ID != "resume" {
		t.Fatalf("claim after delay = %v", j)
	}
}

func TestPublishAt_Idempotent(t *testing.T) {
	ctx := context.Background()
	q := newQ(t, vtq.Options{})
	q.PublishAt(ctx, "same", []byte("a"), time.Now())
	q.PublishAt(ctx, "same", []byte("b"), time.Now())
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	q := newQ(t, vtq.Options{Visibility: 30 * time.Second, Now: c.now})
	q.Publish(ctx, "j", nil)
	q.Claim(ctx)
	c.t = c.t.Add(31 * time.Second)
	j, _ := q.Claim(ctx)
	if j == nil || j.Attempts != 2 {
		t.Fatalf("redelivery = %+v", j)
	}
}

func TestDrain_AckNackAndMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q := newQ(t, vtq.Options{MaxAttempts: 2})
	q.Publish(ctx, "ok", nil)
	q.Publish(ctx, "bad", nil)

	fail := func(_ context.Context, j *vtq.Job) error {
		if j.ID == "bad" {
			return errors.New("boom")
		}
		return nil
	}
	// The nacked job is visible again immediately and keeps being retried
	// within Drain until MaxAttempts discards it.
	if n := q.Drain(ctx, fail); n != 1 {
		t.Fatalf("Drain handled %d, want 1", n)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("Len = %d, want 0", n)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	q := newQ(t, vtq.Options{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	q.Publish(ctx, "j", nil)

	handled := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(_ context.Context, j *vtq.Job) error {
			handled <- j.ID
			return nil
		})
		close(done)
	}()

	select {
	case id := <-handled:
		if id != "j" {
			t.Fatalf("handled %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job not handled")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
