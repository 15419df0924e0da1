package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kseo/analysis"
	"github.com/hazyhaar/kseo/dbopen"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s := New(db)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func TestSaveResult_AppendOnly(t *testing.T) {
	// WHAT: Saving twice for a subject inserts two rows; latest is the higher id.
	// WHY: Results are never mutated in place.
	ctx := context.Background()
	s := setupStore(t)

	a := analysis.Analyze("Best Lubricant for Engines", "best lubricant", "en")
	id1, err := s.SaveResult(ctx, "post-1", ResultInput{Seed: "best lubricant", Keywords: []string{"lubricant"}, Analysis: a, ScoreBefore: 40, ScoreAfter: 55})
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := s.SaveResult(ctx, "post-1", ResultInput{Seed: "second", Analysis: a,
		Assignment: NewAssignment("https://x.test/a", 140, nil)})
	if id2 <= id1 {
		t.Fatalf("ids not increasing: %d, %d", id1, id2)
	}

	r, err := s.LatestBySubject(ctx, "post-1")
	if err != nil || r == nil {
		t.Fatalf("latest: %v, %v", r, err)
	}
	if r.ID != id2 || r.Seed != "second" {
		t.Fatalf("latest = %+v", r)
	}
	if r.Assignment.Score != 100 || r.Assignment.URL != "https://x.test/a" {
		t.Fatalf("assignment = %+v", r.Assignment)
	}
	if r.Analysis.Intent != analysis.Commercial || r.Analysis.Difficulty != a.Difficulty {
		t.Fatalf("analysis = %+v", r.Analysis)
	}
	if r.Keywords == nil || len(r.Keywords) != 0 {
		t.Fatalf("keywords = %#v, want empty slice", r.Keywords)
	}

	var n int
	s.DB.QueryRow(`SELECT COUNT(*) FROM results WHERE subject_id = 'post-1'`).Scan(&n)
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
}

func TestSaveResult_EmptySubject(t *testing.T) {
	s := setupStore(t)
	if _, err := s.SaveResult(context.Background(), "  ", ResultInput{}); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("err = %v", err)
	}
}

func TestLatestBySubject_None(t *testing.T) {
	s := setupStore(t)
	r, err := s.LatestBySubject(context.Background(), "missing")
	if r != nil || err != nil {
		t.Fatalf("got %v, %v; want nil, nil", r, err)
	}
}

func TestLatestBySubject_MalformedJSON(t *testing.T) {
	// WHAT: Corrupt JSON columns decode to empty containers.
	ctx := context.Background()
	s := setupStore(t)
	s.DB.Exec(`INSERT INTO results (subject_id, keywords_json, analysis_json, assignment_json, created_at, updated_at)
		VALUES ('p', 'nope', '{bad', '', 1, 1)`)
	r, err := s.LatestBySubject(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if r.Keywords == nil || r.Analysis.Entities == nil || r.Assignment.Reasons == nil {
		t.Fatalf("nil containers in %+v", r)
	}
	if r.Analysis.Intent != analysis.Informational {
		t.Fatalf("intent = %q", r.Analysis.Intent)
	}
}

func TestEvents_FilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	base := time.Unix(1_700_000_000, 0)
	tick := 0
	s.Now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	s.LogEvent(ctx, EventDecay, EventInput{SubjectID: "a", Details: map[string]any{"delta": -0.5}})
	s.LogEvent(ctx, EventCannibalization, EventInput{SubjectID: "a", RelatedIDs: []string{"a", "b"}})
	s.LogEvent(ctx, EventDecay, EventInput{SubjectID: "b"})

	all, err := s.ListEvents(ctx, EventFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("all = %d, %v", len(all), err)
	}
	if all[0].ID < all[1].ID || all[1].ID < all[2].ID {
		t.Fatal("events not newest first")
	}

	decay, _ := s.ListEvents(ctx, EventFilter{Type: EventDecay})
	if len(decay) != 2 {
		t.Fatalf("decay = %d", len(decay))
	}
	if decay[1].Details["delta"] != -0.5 {
		t.Fatalf("details = %v", decay[1].Details)
	}

	sub, _ := s.ListEvents(ctx, EventFilter{SubjectID: "a", Type: EventCannibalization})
	if len(sub) != 1 || len(sub[0].RelatedIDs) != 2 {
		t.Fatalf("subject filter = %+v", sub)
	}

	page, _ := s.ListEvents(ctx, EventFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != all[1].ID {
		t.Fatalf("page = %+v", page)
	}

	since, _ := s.ListEvents(ctx, EventFilter{Since: all[1].CreatedAt})
	if len(since) != 1 || since[0].ID != all[0].ID {
		t.Fatalf("since = %+v", since)
	}

	if _, err := s.LogEvent(ctx, "", EventInput{}); !errors.Is(err, ErrInvalidEventType) {
		t.Fatalf("empty type err = %v", err)
	}
}

func TestListEvents_LimitClamp(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	for i := 0; i < 520; i++ {
		s.LogEvent(ctx, "x", EventInput{})
	}
	got, _ := s.ListEvents(ctx, EventFilter{Limit: 10_000})
	if len(got) != 500 {
		t.Fatalf("len = %d, want 500", len(got))
	}
	got, _ = s.ListEvents(ctx, EventFilter{})
	if len(got) != 50 {
		t.Fatalf("default len = %d, want 50", len(got))
	}
}

func TestAPIKeys_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	plain, k, err := s.CreateAPIKey(ctx, "ci", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(plain, APIKeyPrefix) || len(plain) != len(APIKeyPrefix)+32 {
		t.Fatalf("plaintext = %q", plain)
	}
	if k.Hash == plain || k.Hash != HashAPIKey(plain) {
		t.Fatal("hash mismatch")
	}

	found, err := s.FindActiveKeyByHash(ctx, HashAPIKey(plain))
	if err != nil || found.ID != k.ID || found.Scope != "api" {
		t.Fatalf("find = %+v, %v", found, err)
	}

	if err := s.TouchAPIKey(ctx, k.ID); err != nil {
		t.Fatal(err)
	}
	keys, _ := s.ListAPIKeys(ctx)
	if len(keys) != 1 || keys[0].LastUsedAt == 0 {
		t.Fatalf("keys = %+v", keys)
	}

	if err := s.RevokeAPIKey(ctx, k.ID[:8]); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindActiveKeyByHash(ctx, k.Hash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoked key still active: %v", err)
	}
	if err := s.RevokeAPIKey(ctx, k.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double revoke err = %v", err)
	}
}
