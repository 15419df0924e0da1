// Package recommend turns an analysis.Result and a content title into
// publishable SEO artifacts: title tag, meta description, heading outline,
// FAQ and a JSON-LD graph. Everything here is deterministic and does no I/O.
package recommend

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hazyhaar/kseo/analysis"
)

const (
	MaxTitleLen       = 60
	MaxDescriptionLen = 155

	maxOutlineEntities    = 6
	maxOutlineSuggestions = 6
	maxOutline            = 8
)

// Bundle is the full set of recommendations for one subject.
type Bundle struct {
	Title           string         `json:"title"`
	MetaDescription string         `json:"meta_description"`
	Outline         []Heading      `json:"outline"`
	FAQ             []FAQItem      `json:"faq"`
	StructuredData  map[string]any `json:"structured_data"`
}

// Heading is an outline node. Children is always empty in this version.
type Heading struct {
	Level    int       `json:"level"`
	Text     string    `json:"text"`
	Children []Heading `json:"children"`
}

// FAQItem is one synthesized question/answer pair.
type FAQItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Build assembles the recommendation bundle.
func Build(a analysis.Result, title string) Bundle {
	subject := firstOr(a.Entities, 0, title)

	seoTitle := Truncate(titlePrefix(a.Intent)+subject, MaxTitleLen)
	meta := Truncate(subject+callToAction(a.Intent), MaxDescriptionLen)
	faq := buildFAQ(a.Entities, title)

	return Bundle{
		Title:           seoTitle,
		MetaDescription: meta,
		Outline:         buildOutline(a),
		FAQ:             faq,
		StructuredData:  structuredData(seoTitle, meta, faq),
	}
}

// Truncate cuts s to at most n characters (runes, not bytes) and drops any
// trailing whitespace left by the cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimRight(string(r[:n]), " \t")
}

func titlePrefix(intent analysis.Intent) string {
	switch intent {
	case analysis.Transactional:
		return "Buy "
	case analysis.Commercial:
		return "Best "
	default:
		return "Guide: "
	}
}

func callToAction(intent analysis.Intent) string {
	switch intent {
	case analysis.Transactional:
		return ": compare prices, check availability and order online today."
	case analysis.Commercial:
		return ": our top picks with side-by-side comparisons and honest reviews."
	case analysis.Local:
		return ": find locations, opening hours and directions near you."
	default:
		return ": a clear guide with answers to the most common questions."
	}
}

func buildOutline(a analysis.Result) []Heading {
	// A Caser keeps state and must not be shared between goroutines.
	titleCaser := cases.Title(language.Und)
	outline := make([]Heading, 0, maxOutline)
	for i, e := range a.Entities {
		if i == maxOutlineEntities {
			break
		}
		outline = append(outline, Heading{Level: 2, Text: e, Children: []Heading{}})
	}
	for i, s := range a.Suggestions {
		if i == maxOutlineSuggestions {
			break
		}
		outline = append(outline, Heading{Level: 2, Text: titleCaser.String(s), Children: []Heading{}})
	}
	if len(outline) > maxOutline {
		outline = outline[:maxOutline]
	}
	return outline
}

func buildFAQ(entities []string, title string) []FAQItem {
	first := firstOr(entities, 0, title)
	second := firstOr(entities, 1, "it")
	third := firstOr(entities, 2, title)
	return []FAQItem{
		{
			Question: "What is " + first + "?",
			Answer:   first + " explained: what it is, how it works and why it matters.",
		},
		{
			Question: "How does " + second + " work?",
			Answer:   "A step-by-step look at how " + second + " works in practice.",
		},
		{
			Question: "Where can I learn more about " + third + "?",
			Answer:   "This page covers " + third + " in depth and links to related resources.",
		},
	}
}

func structuredData(headline, description string, faq []FAQItem) map[string]any {
	questions := make([]any, 0, len(faq))
	for _, f := range faq {
		questions = append(questions, map[string]any{
			"@type": "Question",
			"name":  f.Question,
			"acceptedAnswer": map[string]any{
				"@type": "Answer",
				"text":  f.Answer,
			},
		})
	}
	return map[string]any{
		"@context": "https://schema.org",
		"@graph": []any{
			map[string]any{
				"@type":       "Article",
				"headline":    headline,
				"description": description,
			},
			map[string]any{
				"@type":      "FAQPage",
				"mainEntity": questions,
			},
		},
	}
}

func firstOr(list []string, i int, fallback string) string {
	if i < len(list) && list[i] != "" {
		return list[i]
	}
	return fallback
}
