package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wneessen/go-mail"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kseo/cache"
	"github.com/hazyhaar/kseo/dbopen"
	"github.com/hazyhaar/kseo/store"
)

type fakeNotifier struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Alert
}

func (f *fakeNotifier) Name() string { return f.name }
func (f *fakeNotifier) Notify(_ context.Context, a Alert) error {
	f.mu.Lock()
	f.got = append(f.got, a)
	f.mu.Unlock()
	return f.err
}

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(dbopen.OpenMemory(t))
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSend_FanOutAndDedup(t *testing.T) {
	// WHAT: One failing channel does not block the other; both outcomes are
	// recorded; the same alert is suppressed for 24h.
	ctx := context.Background()
	s := setupStore(t)
	ok := &fakeNotifier{name: "webhook"}
	bad := &fakeNotifier{name: "email", err: errors.New("relay down")}
	now := time.Unix(1_700_000_000, 0)
	c := cache.NewMemory().WithClock(func() time.Time { return now })
	a := New(Config{Events: s, Cache: c, Notifiers: []Notifier{bad, ok}})

	payload := map[string]any{"keyword": "engine oil", "primary_url": "https://x.test/a"}
	out := a.Send(ctx, store.EventCannibalization, payload)
	if out.Skipped || len(out.Channels) != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Channels[0].OK || !out.Channels[1].OK {
		t.Fatalf("channels = %+v", out.Channels)
	}
	if len(ok.got) != 1 {
		t.Fatal("webhook not called after email failure")
	}

	evs, _ := s.ListEvents(ctx, store.EventFilter{Type: store.EventAlertSent})
	if len(evs) != 2 {
		t.Fatalf("alert_sent events = %d", len(evs))
	}
	if evs[1].Details["ok"] != false || evs[1].Details["error"] != "relay down" {
		t.Fatalf("failure event = %v", evs[1].Details)
	}

	if again := a.Send(ctx, store.EventCannibalization, payload); !again.Skipped {
		t.Fatal("duplicate within 24h should be skipped")
	}

	now = now.Add(DedupTTL)
	if later := a.Send(ctx, store.EventCannibalization, payload); later.Skipped {
		t.Fatal("alert should be sent again after 24h")
	}
}

func TestKey(t *testing.T) {
	a := Key("decay", map[string]any{"url": "u"})
	b := Key("decay", map[string]any{"url": "u", "delta": -0.5})
	c := Key("cannibalization", map[string]any{"url": "u"})
	if a != b {
		t.Fatal("key should depend only on url, keyword and primary_url")
	}
	if a == c || !strings.HasPrefix(a, "alert:decay:") {
		t.Fatalf("keys = %s, %s", a, c)
	}
}

func TestSendRecent(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	n := &fakeNotifier{name: "test"}
	a := New(Config{Events: s, Notifiers: []Notifier{n}})

	s.LogEvent(ctx, store.EventDecay, store.EventInput{SubjectID: "p1", Details: map[string]any{"url": "https://x.test/1"}})
	s.LogEvent(ctx, store.EventCannibalization, store.EventInput{Details: map[string]any{"keyword": "k", "primary_url": "https://x.test/2"}})
	s.LogEvent(ctx, "other", store.EventInput{})

	sent, err := a.SendRecent(ctx, time.Now().Add(-5*time.Minute))
	if err != nil || sent != 2 {
		t.Fatalf("sent = %d, %v", sent, err)
	}
	var sawSubject bool
	for _, al := range n.got {
		if al.Type == store.EventDecay && al.SubjectID == "p1" {
			sawSubject = true
		}
	}
	if !sawSubject {
		t.Fatalf("decay alert missing subject: %+v", n.got)
	}
}

func TestWebhook_SignedPOST(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL, Secret: "s3cret", AllowPrivate: true})
	if err != nil {
		t.Fatal(err)
	}
	err = wh.Notify(context.Background(), Alert{Type: "decay", Payload: map[string]any{"url": "https://x.test"}})
	if err != nil {
		t.Fatal(err)
	}
	if !Verify("s3cret", gotBody, gotSig) {
		t.Fatalf("signature %q does not verify", gotSig)
	}
	var body map[string]any
	json.Unmarshal(gotBody, &body)
	if body["type"] != "decay" {
		t.Fatalf("body = %v", body)
	}
}

func TestWebhook_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer srv.Close()

	wh, _ := NewWebhook(WebhookConfig{URL: srv.URL, AllowPrivate: true,
		Client: &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}})
	err := wh.Notify(context.Background(), Alert{Type: "decay"})
	var sf *ErrSendFailed
	if !errors.As(err, &sf) || sf.Channel != "webhook" {
		t.Fatalf("err = %v", err)
	}
}

func TestWebhook_SSRFGuard(t *testing.T) {
	// WHAT: Loopback webhook targets are refused unless explicitly allowed.
	if _, err := NewWebhook(WebhookConfig{URL: "http://127.0.0.1:9/hook"}); err == nil {
		t.Fatal("loopback URL accepted")
	}
	if _, err := NewWebhook(WebhookConfig{URL: "file:///etc/passwd", AllowPrivate: true}); err == nil {
		t.Fatal("file scheme accepted")
	}
}

func TestEmail_Message(t *testing.T) {
	// WHAT: The composed message carries subject, recipient and payload fields.
	var buf bytes.Buffer
	e, err := NewEmail(EmailConfig{Addr: "smtp.test:25", From: "kseo@x.test", To: []string{"ops@x.test"}},
		func(_ context.Context, _ EmailConfig, m *mail.Msg) error {
			_, err := m.WriteTo(&buf)
			return err
		})
	if err != nil {
		t.Fatal(err)
	}
	err = e.Notify(context.Background(), Alert{Type: "decay", SentAt: time.Unix(0, 0),
		Payload: map[string]any{"url": "https://x.test/p", "delta": -0.4, "suggestion": "refresh"}})
	if err != nil {
		t.Fatal(err)
	}
	raw := buf.String()
	for _, want := range []string{"Subject: [kseo] decay alert", "<ops@x.test>", "url: https://x.test/p", "delta: -0.4"} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestEmail_Config(t *testing.T) {
	// WHAT: Incomplete or malformed settings are rejected up front.
	// WHY: A bad relay address should fail at startup, not on the first alert.
	for _, cfg := range []EmailConfig{
		{Addr: "x:25"},
		{Addr: "smtp.test", From: "kseo@x.test", To: []string{"ops@x.test"}},
		{Addr: "smtp.test:smtp", From: "kseo@x.test", To: []string{"ops@x.test"}},
	} {
		if _, err := NewEmail(cfg, nil); err == nil {
			t.Errorf("config %+v accepted", cfg)
		}
	}
}

func TestEmail_BadAddressIsSendFailure(t *testing.T) {
	// WHAT: An unparsable sender surfaces as ErrSendFailed without calling send.
	called := false
	e, err := NewEmail(EmailConfig{Addr: "smtp.test:25", From: "not an address", To: []string{"ops@x.test"}},
		func(context.Context, EmailConfig, *mail.Msg) error {
			called = true
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	err = e.Notify(context.Background(), Alert{Type: "decay", SentAt: time.Unix(0, 0)})
	var sf *ErrSendFailed
	if !errors.As(err, &sf) || sf.Channel != "email" || called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}
