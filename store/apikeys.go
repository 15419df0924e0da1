package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/kseo/dbopen"
	"github.com/hazyhaar/kseo/idgen"
)

// APIKeyPrefix starts every plaintext API key.
const APIKeyPrefix = "kseo_"

// API key statuses.
const (
	KeyActive  = "active"
	KeyRevoked = "revoked"
)

// APIKey is a stored key. The plaintext is never stored.
type APIKey struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Hash       string `json:"-"`
	Scope      string `json:"scope"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"created_at"`
	LastUsedAt int64  `json:"last_used_at"`
}

var newKeySecret = idgen.Prefixed(APIKeyPrefix, idgen.Random(32))

// HashAPIKey returns the hex SHA-256 of a plaintext key.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey stores a new active key. The plaintext is returned once and
// cannot be recovered later.
func (s *Store) CreateAPIKey(ctx context.Context, label, scope string) (string, *APIKey, error) {
	if scope == "" {
		scope = "api"
	}
	plain := newKeySecret()
	k := &APIKey{
		ID:        idgen.APIKeyID(),
		Label:     label,
		Hash:      HashAPIKey(plain),
		Scope:     scope,
		Status:    KeyActive,
		CreatedAt: s.nowMillis(),
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO api_keys (id, label, key_hash, scope, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		k.ID, k.Label, k.Hash, k.Scope, k.Status, k.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("store: create api key: %w", err)
	}
	return plain, k, nil
}

// FindActiveKeyByHash returns the active key with the given hash or
// ErrNotFound.
func (s *Store) FindActiveKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	var k APIKey
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, label, key_hash, scope, status, created_at, last_used_at
		FROM api_keys WHERE key_hash = ? AND status = ?`, hash, KeyActive).
		Scan(&k.ID, &k.Label, &k.Hash, &k.Scope, &k.Status, &k.CreatedAt, &k.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find api key: %w", err)
	}
	return &k, nil
}

// TouchAPIKey records a use of the key.
func (s *Store) TouchAPIKey(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, s.DB, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, s.nowMillis(), id)
	return err
}

// RevokeAPIKey revokes by id or by id prefix (at least 8 characters).
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if len(id) < 8 {
		return ErrNotFound
	}
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE api_keys SET status = ? WHERE (id = ? OR id LIKE ? || '%') AND status = ?`,
		KeyRevoked, id, id, KeyActive)
	if err != nil {
		return fmt.Errorf("store: revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAPIKeys returns all keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, label, key_hash, scope, status, created_at, last_used_at
		FROM api_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list api keys: %w", err)
	}
	defer rows.Close()
	var out []*APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.Label, &k.Hash, &k.Scope, &k.Status, &k.CreatedAt, &k.LastUsedAt); err != nil {
			return nil, err
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}
