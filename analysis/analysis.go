// Package analysis extracts entities, search intent, a difficulty score and
// keyword suggestions from a content body and a seed phrase.
//
// Analyze is a pure function of its inputs: no I/O, no clock, no package
// state that changes between calls. Empty content or seed is valid input and
// yields a degenerate but well-formed Result.
package analysis

import (
	"html"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Intent is the search intent class of a content/seed pair.
type Intent string

const (
	Informational Intent = "informational"
	Commercial    Intent = "commercial"
	Transactional Intent = "transactional"
	Local         Intent = "local"
)

const (
	maxEntities = 25
	maxTokens   = 20
)

// Result is the outcome of one analysis run.
type Result struct {
	Entities    []string `json:"entities"`
	Intent      Intent   `json:"intent"`
	Difficulty  int      `json:"difficulty"`
	Suggestions []string `json:"suggestions"`
}

// NewResult builds a Result, clamping difficulty to [0,100], truncating
// entities to 25 and replacing nil slices with empty ones. Used when a
// Result is rebuilt from stored or client-provided data.
func NewResult(entities []string, intent Intent, difficulty int, suggestions []string) Result {
	if entities == nil {
		entities = []string{}
	}
	if len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	switch intent {
	case Informational, Commercial, Transactional, Local:
	default:
		intent = Informational
	}
	return Result{
		Entities:    entities,
		Intent:      intent,
		Difficulty:  clamp(difficulty, 0, 100),
		Suggestions: suggestions,
	}
}

var (
	stripPolicy = bluemonday.StrictPolicy()

	entityRe = regexp.MustCompile(`\p{Lu}[\p{L}\p{N}]*(?:[ \t]+\p{Lu}[\p{L}\p{N}]*)*`)
	spaceRe  = regexp.MustCompile(`\s+`)
	tokenRe  = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

	cheapSeedRe = regexp.MustCompile(`\b(best|top|cheap|free)\b`)
	buySeedRe   = regexp.MustCompile(`\b(price|buy|order)\b`)
)

// intentRules are tested in order; the first match wins. "near me" is listed
// under both transactional and local: transactional is tested first and so
// takes it.
var intentRules = []struct {
	re     *regexp.Regexp
	intent Intent
}{
	{regexp.MustCompile(`\b(how|tutorial|guide)\b`), Informational},
	{regexp.MustCompile(`\b(what|definition|meaning)\b`), Informational},
	{regexp.MustCompile(`\b(best|top|vs|compare|review)\b`), Commercial},
	{regexp.MustCompile(`\b(price|buy|deal|discount|order)\b|\bnear me\b`), Transactional},
	{regexp.MustCompile(`\bnear me\b|\b(location|hours|address)\b`), Local},
}

// Analyze runs the full analysis. locale is accepted for callers that track
// it per subject; the current rules are locale independent.
func Analyze(content, seed, locale string) Result {
	_ = locale
	text := StripMarkup(content)
	return Result{
		Entities:    ExtractEntities(text),
		Intent:      ClassifyIntent(text, seed),
		Difficulty:  Difficulty(text, seed),
		Suggestions: Suggest(text, seed),
	}
}

// StripMarkup removes all tags, decodes entities and collapses whitespace.
// Tag boundaries become spaces so adjacent block elements do not fuse words.
func StripMarkup(content string) string {
	if content == "" {
		return ""
	}
	spaced := strings.ReplaceAll(content, "<", " <")
	text := html.UnescapeString(stripPolicy.Sanitize(spaced))
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

// ExtractEntities returns distinct capitalized phrases in first-seen order,
// at most 25.
func ExtractEntities(text string) []string {
	entities := []string{}
	seen := make(map[string]struct{})
	for _, m := range entityRe.FindAllString(text, -1) {
		m = spaceRe.ReplaceAllString(m, " ")
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		entities = append(entities, m)
		if len(entities) == maxEntities {
			break
		}
	}
	return entities
}

// ClassifyIntent applies the ordered intent rules to seed and text.
func ClassifyIntent(text, seed string) Intent {
	hay := strings.ToLower(seed + " " + text)
	for _, rule := range intentRules {
		if rule.re.MatchString(hay) {
			return rule.intent
		}
	}
	return Informational
}

// Difficulty scores how hard the topic is to rank for, 0–100:
//
//	20 + floor(log10(len)*10) + floor(distinct a-z / 26 * 30) + seed modifiers
//
// Seed modifiers are additive: +10 for best/top/cheap/free, +15 for
// price/buy/order.
func Difficulty(text, seed string) int {
	score := 20

	if n := utf8.RuneCountInString(text); n > 0 {
		score += int(math.Floor(math.Log10(float64(n)) * 10))
	}

	var letters [26]bool
	distinct := 0
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' && !letters[r-'a'] {
			letters[r-'a'] = true
			distinct++
		}
	}
	score += int(math.Floor(float64(distinct) / 26 * 30))

	s := strings.ToLower(seed)
	if cheapSeedRe.MatchString(s) {
		score += 10
	}
	if buySeedRe.MatchString(s) {
		score += 15
	}
	return clamp(score, 0, 100)
}

// Suggest returns the first 20 distinct tokens of seed+text followed by the
// bigrams of consecutive pairs among them, deduplicated in order.
func Suggest(text, seed string) []string {
	tokens := Tokenize(seed + " " + text)
	if len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}

	out := make([]string, 0, 2*len(tokens))
	seen := make(map[string]struct{}, 2*len(tokens))
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, t := range tokens {
		add(t)
	}
	for i := 0; i+1 < len(tokens); i++ {
		add(tokens[i] + " " + tokens[i+1])
	}
	return out
}

// Tokenize splits on non-word runs, lower-cases and deduplicates, keeping the
// first occurrence order.
func Tokenize(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, t := range tokenRe.Split(strings.ToLower(s), -1) {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
