// Package alerts fans detector findings out to notification channels.
//
// Each (type, url, keyword, primary_url) combination is sent at most once
// per 24 hours. The check is a cache flag, so two sends racing on the same
// key can both go out; suppression is best effort.
package alerts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/kseo/cache"
	"github.com/hazyhaar/kseo/store"
)

// DedupTTL is how long an alert key suppresses repeats.
const DedupTTL = 24 * time.Hour

// Alert is what a Notifier delivers.
type Alert struct {
	Type      string         `json:"type"`
	SubjectID string         `json:"subject_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	Key       string         `json:"key"`
	SentAt    time.Time      `json:"sent_at"`
}

// Summary is a one-line human description used by text channels.
func (a Alert) Summary() string {
	switch a.Type {
	case store.EventCannibalization:
		return fmt.Sprintf("Keyword %q is targeted by several pages; consider merging into %v",
			field(a.Payload, "keyword"), field(a.Payload, "primary_url"))
	case store.EventDecay:
		return fmt.Sprintf("Page %v lost %v of its score; suggested action: %v",
			field(a.Payload, "url"), a.Payload["delta"], field(a.Payload, "suggestion"))
	}
	return fmt.Sprintf("kseo alert: %s", a.Type)
}

// Notifier delivers alerts over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// EventLog is the subset of store.Store used by the Alerter.
type EventLog interface {
	LogEvent(ctx context.Context, typ string, in store.EventInput) (int64, error)
	ListEvents(ctx context.Context, f store.EventFilter) ([]*store.Event, error)
}

// ChannelResult is the outcome of one channel.
type ChannelResult struct {
	Channel string `json:"channel"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// Outcome is the result of Send.
type Outcome struct {
	Key      string          `json:"key"`
	Skipped  bool            `json:"skipped"`
	Channels []ChannelResult `json:"channels"`
}

// Config configures an Alerter.
type Config struct {
	Events    EventLog
	Cache     cache.Store
	Notifiers []Notifier
	Logger    *slog.Logger
	Now       func() time.Time
}

// Alerter sends alerts with de-duplication and records every attempt.
type Alerter struct {
	events    EventLog
	cache     cache.Store
	notifiers []Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// New returns an Alerter.
func New(cfg Config) *Alerter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory()
	}
	return &Alerter{
		events:    cfg.Events,
		cache:     cfg.Cache,
		notifiers: cfg.Notifiers,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Key returns the de-duplication key for an alert.
func Key(typ string, payload map[string]any) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s",
		field(payload, "url"), field(payload, "keyword"), field(payload, "primary_url"))))
	return "alert:" + typ + ":" + hex.EncodeToString(h[:])
}

// Send delivers an alert on every channel unless the same alert went out in
// the last 24 hours. Channels are independent: one failing does not stop
// the others. Each attempt is logged as an alert_sent event.
func (a *Alerter) Send(ctx context.Context, typ string, payload map[string]any) Outcome {
	key := Key(typ, payload)
	out := Outcome{Key: key, Channels: []ChannelResult{}}

	seen, err := cache.HasFlag(ctx, a.cache, key)
	if err != nil {
		a.logger.Warn("alerts: dedup check failed", "key", key, "error", err)
	}
	if seen {
		a.logger.Debug("alerts: duplicate suppressed", "type", typ, "key", key)
		out.Skipped = true
		return out
	}

	alert := Alert{Type: typ, Payload: payload, Key: key, SentAt: a.now()}
	if s, ok := payload["subject_id"].(string); ok {
		alert.SubjectID = s
	}

	for _, n := range a.notifiers {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := n.Notify(cctx, alert)
		cancel()

		res := ChannelResult{Channel: n.Name(), OK: err == nil}
		if err != nil {
			res.Error = err.Error()
			a.logger.Warn("alerts: channel failed", "channel", n.Name(), "type", typ, "error", err)
		}
		out.Channels = append(out.Channels, res)
		a.record(ctx, alert, res)
	}

	if err := cache.SetFlag(ctx, a.cache, key, DedupTTL); err != nil {
		a.logger.Warn("alerts: dedup set failed", "key", key, "error", err)
	}
	return out
}

func (a *Alerter) record(ctx context.Context, alert Alert, res ChannelResult) {
	if a.events == nil {
		return
	}
	details := map[string]any{
		"channel":    res.Channel,
		"alert_type": alert.Type,
		"ok":         res.OK,
		"key":        alert.Key,
	}
	if res.Error != "" {
		details["error"] = res.Error
	}
	if _, err := a.events.LogEvent(ctx, store.EventAlertSent, store.EventInput{
		SubjectID: alert.SubjectID,
		Details:   details,
	}); err != nil {
		a.logger.Warn("alerts: record outcome failed", "error", err)
	}
}

// SendRecent sends an alert for every cannibalization and decay event
// created after since. It returns the number of alerts not suppressed.
func (a *Alerter) SendRecent(ctx context.Context, since time.Time) (int, error) {
	if a.events == nil {
		return 0, nil
	}
	sent := 0
	for _, typ := range []string{store.EventCannibalization, store.EventDecay} {
		evs, err := a.events.ListEvents(ctx, store.EventFilter{Type: typ, Since: since.UnixMilli(), Limit: 500})
		if err != nil {
			return sent, fmt.Errorf("alerts: list %s: %w", typ, err)
		}
		for _, ev := range evs {
			payload := make(map[string]any, len(ev.Details)+1)
			for k, v := range ev.Details {
				payload[k] = v
			}
			if ev.SubjectID != "" {
				payload["subject_id"] = ev.SubjectID
			}
			if out := a.Send(ctx, typ, payload); !out.Skipped {
				sent++
			}
		}
	}
	return sent, nil
}

func field(m map[string]any, k string) string {
	v, ok := m[k]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
