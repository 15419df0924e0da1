package store

import (
	"encoding/json"

	"github.com/hazyhaar/kseo/analysis"
)

// Assignment maps a subject to a target URL with a fit score.
type Assignment struct {
	URL     string             `json:"url"`
	Score   int                `json:"score"`
	Reasons map[string]float64 `json:"reasons"`
}

// NewAssignment clamps score to 0..100 and never returns nil reasons.
func NewAssignment(url string, score int, reasons map[string]float64) Assignment {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	if reasons == nil {
		reasons = map[string]float64{}
	}
	return Assignment{URL: url, Score: score, Reasons: reasons}
}

// Result is one persisted analysis run. Rows are never updated.
type Result struct {
	ID          int64           `json:"id"`
	SubjectID   string          `json:"subject_id"`
	Seed        string          `json:"seed"`
	Keywords    []string        `json:"keywords"`
	Analysis    analysis.Result `json:"analysis"`
	Assignment  Assignment      `json:"assignment"`
	ScoreBefore int             `json:"score_before"`
	ScoreAfter  int             `json:"score_after"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// ResultInput is the payload of SaveResult.
type ResultInput struct {
	Seed        string
	Keywords    []string
	Analysis    analysis.Result
	Assignment  Assignment
	ScoreBefore int
	ScoreAfter  int
}

// Event is an immutable log entry.
type Event struct {
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	SubjectID  string         `json:"subject_id,omitempty"`
	RelatedIDs []string       `json:"related_ids"`
	Details    map[string]any `json:"details"`
	CreatedAt  int64          `json:"created_at"`
}

// EventInput is the payload of LogEvent.
type EventInput struct {
	SubjectID  string
	RelatedIDs []string
	Details    map[string]any
}

// EventFilter selects events for ListEvents. Zero values mean no filter.
type EventFilter struct {
	Type      string
	SubjectID string
	Since     int64 // unix ms, exclusive
	Limit     int
	Offset    int
}

// Event types written by kseo.
const (
	EventCannibalization = "cannibalization"
	EventDecay           = "decay"
	EventAlertSent       = "alert_sent"
	EventResultSaved     = "result_saved"
)

func mustJSON(v any, empty string) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return empty
	}
	return string(b)
}

func decodeStrings(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func decodeMap(s string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func decodeAnalysis(s string) analysis.Result {
	var a analysis.Result
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		a = analysis.Result{}
	}
	return analysis.NewResult(a.Entities, a.Intent, a.Difficulty, a.Suggestions)
}

func decodeAssignment(s string) Assignment {
	var a Assignment
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		a = Assignment{}
	}
	return NewAssignment(a.URL, a.Score, a.Reasons)
}
