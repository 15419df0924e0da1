package detect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/hazyhaar/kseo/cache"
	"github.com/hazyhaar/kseo/store"
)

const cannibalizationWindow = 500

// Cannibalization finds keywords targeted by more than one URL.
type Cannibalization struct {
	Store  ResultStore
	Cache  cache.Store
	Logger *slog.Logger
}

type bucket struct {
	keyword  string
	urls     []string
	subjects []string
	seenURL  map[string]bool
	seenSubj map[string]bool
}

// ScanRecent buckets the keywords of the 500 most recent results by
// normalized form and emits one cannibalization event for each bucket that
// points at two or more distinct URLs. The first URL seen is the primary.
func (c *Cannibalization) ScanRecent(ctx context.Context) (Report, error) {
	logger := orDefault(c.Logger)
	if throttled(ctx, c.Cache, FlagCannibalization, logger) {
		logger.Debug("detect: cannibalization scan throttled")
		return Report{Skipped: true}, nil
	}

	results, err := c.Store.RecentResults(ctx, cannibalizationWindow)
	if err != nil {
		return Report{}, fmt.Errorf("detect: cannibalization: %w", err)
	}
	rep := Report{Scanned: len(results), Events: []int64{}}

	buckets := map[string]*bucket{}
	var order []string
	for _, r := range results {
		url := r.Assignment.URL
		if url == "" {
			continue
		}
		for _, kw := range r.Keywords {
			norm := Normalize(kw)
			if norm == "" {
				continue
			}
			b, ok := buckets[norm]
			if !ok {
				b = &bucket{keyword: norm, seenURL: map[string]bool{}, seenSubj: map[string]bool{}}
				buckets[norm] = b
				order = append(order, norm)
			}
			if !b.seenURL[url] {
				b.seenURL[url] = true
				b.urls = append(b.urls, url)
			}
			if !b.seenSubj[r.SubjectID] {
				b.seenSubj[r.SubjectID] = true
				b.subjects = append(b.subjects, r.SubjectID)
			}
		}
	}

	for _, norm := range order {
		b := buckets[norm]
		if len(b.urls) < 2 {
			continue
		}
		id, err := c.Store.LogEvent(ctx, store.EventCannibalization, store.EventInput{
			SubjectID:  b.subjects[0],
			RelatedIDs: b.subjects,
			Details: map[string]any{
				"keyword":        b.keyword,
				"primary_url":    b.urls[0],
				"competing_urls": b.urls[1:],
				"recommendation": "merge",
				"canonical":      b.urls[0],
			},
		})
		if err != nil {
			return rep, fmt.Errorf("detect: log cannibalization: %w", err)
		}
		rep.Events = append(rep.Events, id)
	}

	logger.Info("detect: cannibalization scan", "scanned", rep.Scanned, "events", len(rep.Events))
	return rep, nil
}

// Normalize lower-cases s, drops every rune that is neither alphanumeric
// nor whitespace and collapses whitespace. "ENGINE-OIL" becomes "engineoil",
// not "engine oil".
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// IsNear reports whether two keyword strings name the same topic: token-set
// Jaccard similarity of at least 0.7, or an edit distance of at most 2
// between their normalized forms.
func IsNear(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" && nb == "" {
		return true
	}
	if Jaccard(na, nb) >= 0.7 {
		return true
	}
	return levenshtein.ComputeDistance(na, nb) <= 2
}

// Jaccard returns |A∩B| / |A∪B| over the whitespace-separated tokens.
func Jaccard(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, t := range strings.Fields(s) {
		set[t] = true
	}
	return set
}
