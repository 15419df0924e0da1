package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/kseo/dbopen"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// LogEvent appends an event and returns its id.
func (s *Store) LogEvent(ctx context.Context, typ string, in EventInput) (int64, error) {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return 0, ErrInvalidEventType
	}
	if in.RelatedIDs == nil {
		in.RelatedIDs = []string{}
	}
	if in.Details == nil {
		in.Details = map[string]any{}
	}
	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO events (type, subject_id, related_json, details_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		typ, in.SubjectID, mustJSON(in.RelatedIDs, "[]"), mustJSON(in.Details, "{}"), s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("store: log event: %w", err)
	}
	return res.LastInsertId()
}

// ListEvents returns events matching f, newest first by id. Limit defaults
// to 50 and is clamped to 500.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var where []string
	var args []any
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.Since > 0 {
		where = append(where, "created_at > ?")
		args = append(args, f.Since)
	}
	q := `SELECT id, type, subject_id, related_json, details_json, created_at FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	out := []*Event{}
	for rows.Next() {
		var e Event
		var rel, det string
		if err := rows.Scan(&e.ID, &e.Type, &e.SubjectID, &rel, &det, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.RelatedIDs = decodeStrings(rel)
		e.Details = decodeMap(det)
		out = append(out, &e)
	}
	return out, rows.Err()
}
