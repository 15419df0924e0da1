// Package detect scans stored results for keyword cannibalization and
// score decay and records what it finds as events.
//
// Each scan is throttled by a cache flag: a scan that ran in the last ten
// minutes makes the next one a no-op. The flag is best effort; two scans
// racing past it both run.
package detect

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/kseo/cache"
	"github.com/hazyhaar/kseo/store"
)

// Throttle is how long a scan suppresses the next one.
const Throttle = 600 * time.Second

// Throttle flag keys.
const (
	FlagCannibalization = "scan:cannibalization"
	FlagDecay           = "scan:decay"
)

// ResultStore is the subset of store.Store the detectors read and write.
type ResultStore interface {
	RecentResults(ctx context.Context, limit int) ([]*store.Result, error)
	LogEvent(ctx context.Context, typ string, in store.EventInput) (int64, error)
}

// Report summarises one scan.
type Report struct {
	Skipped bool    `json:"skipped"`
	Scanned int     `json:"scanned"`
	Events  []int64 `json:"events"`
}

// Found reports whether the scan emitted any event.
func (r Report) Found() bool { return len(r.Events) > 0 }

// throttled checks and sets the scan flag. Cache errors never block a scan.
func throttled(ctx context.Context, c cache.Store, key string, logger *slog.Logger) bool {
	if c == nil {
		return false
	}
	seen, err := cache.HasFlag(ctx, c, key)
	if err != nil {
		logger.Warn("detect: throttle check failed", "key", key, "error", err)
	}
	if seen {
		return true
	}
	if err := cache.SetFlag(ctx, c, key, Throttle); err != nil {
		logger.Warn("detect: throttle set failed", "key", key, "error", err)
	}
	return false
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
