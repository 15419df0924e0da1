package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/kseo/dbopen"
)

const resultColumns = `id, subject_id, seed, keywords_json, analysis_json, assignment_json,
	score_before, score_after, created_at, updated_at`

// SaveResult inserts a new result row and returns its id. It never updates
// an existing row; the latest result is whichever has the highest id.
func (s *Store) SaveResult(ctx context.Context, subjectID string, in ResultInput) (int64, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return 0, ErrInvalidSubject
	}
	if in.Keywords == nil {
		in.Keywords = []string{}
	}
	now := s.nowMillis()
	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO results (subject_id, seed, keywords_json, analysis_json, assignment_json,
		score_before, score_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subjectID, in.Seed,
		mustJSON(in.Keywords, "[]"),
		mustJSON(in.Analysis, "{}"),
		mustJSON(in.Assignment, "{}"),
		in.ScoreBefore, in.ScoreAfter, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("store: save result: %w", err)
	}
	return res.LastInsertId()
}

// LatestBySubject returns the newest result for subjectID, or nil when
// the subject has none.
func (s *Store) LatestBySubject(ctx context.Context, subjectID string) (*Result, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE subject_id = ? ORDER BY id DESC LIMIT 1`,
		subjectID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest result: %w", err)
	}
	return r, nil
}

// RecentResults returns up to limit results, newest first.
func (s *Store) RecentResults(ctx context.Context, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM results ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent results: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AnalyzedSince returns the subject ids with a result created at or after
// since (unix ms).
func (s *Store) AnalyzedSince(ctx context.Context, since int64) (map[string]bool, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT DISTINCT subject_id FROM results WHERE created_at >= ?`, since)
	if err != nil {
		return nil, fmt.Errorf("store: analyzed since: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (*Result, error) {
	var r Result
	var kw, an, as string
	if err := sc.Scan(&r.ID, &r.SubjectID, &r.Seed, &kw, &an, &as,
		&r.ScoreBefore, &r.ScoreAfter, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Keywords = decodeStrings(kw)
	r.Analysis = decodeAnalysis(an)
	r.Assignment = decodeAssignment(as)
	return &r, nil
}
