package detect

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/hazyhaar/kseo/cache"
	"github.com/hazyhaar/kseo/store"
)

const (
	decayWindow    = 200
	decayThreshold = -0.30

	// impressionsDeltaPlaceholder stands in for a traffic signal kseo does
	// not collect yet.
	impressionsDeltaPlaceholder = -0.2
)

// Decay finds subjects whose latest score dropped by 30% or more.
type Decay struct {
	Store  ResultStore
	Cache  cache.Store
	Logger *slog.Logger
}

// ScanRecent looks at the latest result of each subject among the 200 most
// recent results and emits a decay event when
// (after-before)/max(1,before) <= -0.30.
func (d *Decay) ScanRecent(ctx context.Context) (Report, error) {
	logger := orDefault(d.Logger)
	if throttled(ctx, d.Cache, FlagDecay, logger) {
		logger.Debug("detect: decay scan throttled")
		return Report{Skipped: true}, nil
	}

	results, err := d.Store.RecentResults(ctx, decayWindow)
	if err != nil {
		return Report{}, fmt.Errorf("detect: decay: %w", err)
	}
	rep := Report{Events: []int64{}}

	seen := map[string]bool{}
	for _, r := range results {
		if seen[r.SubjectID] {
			continue
		}
		seen[r.SubjectID] = true
		rep.Scanned++

		delta := ScoreDelta(r.ScoreBefore, r.ScoreAfter)
		if delta > decayThreshold {
			continue
		}
		id, err := d.Store.LogEvent(ctx, store.EventDecay, store.EventInput{
			SubjectID: r.SubjectID,
			Details: map[string]any{
				"url":               r.Assignment.URL,
				"top_keywords":      []string{},
				"delta":             math.Round(delta*100) / 100,
				"impressions_delta": impressionsDeltaPlaceholder,
				"suggestion":        "refresh",
			},
		})
		if err != nil {
			return rep, fmt.Errorf("detect: log decay: %w", err)
		}
		rep.Events = append(rep.Events, id)
	}

	logger.Info("detect: decay scan", "scanned", rep.Scanned, "events", len(rep.Events))
	return rep, nil
}

// ScoreDelta is the relative change from before to after.
func ScoreDelta(before, after int) float64 {
	return float64(after-before) / float64(max(1, before))
}
