// Package cache provides the key/value counter stores behind rate limiting,
// detector throttles and alert de-duplication.
//
// Two capabilities are modelled separately:
//
//   - Store: Get/Set/Delete with a TTL. Any backend can offer this.
//   - Incrementer: an atomic increment. Only backends that can do it without
//     a read-then-write race implement it.
//
// Callers that need a counter check for Incrementer and fall back to
// Get+Set otherwise; that fallback can over-count admissions under
// concurrent load and is accepted as a weaker guarantee.
package cache

import (
	"context"
	"time"
)

// Store is a TTL key/value store of integer values.
type Store interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Incrementer is implemented by stores with an atomic increment. The TTL is
// applied only when the key is created.
type Incrementer interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// SetFlag marks key as present for ttl.
func SetFlag(ctx context.Context, s Store, key string, ttl time.Duration) error {
	return s.Set(ctx, key, 1, ttl)
}

// HasFlag reports whether key is present and not expired.
func HasFlag(ctx context.Context, s Store, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}
