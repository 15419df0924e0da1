// Package auth resolves the actor behind an API request.
//
// Precedence: a valid JWT (cookie "token" or Bearer) identifies a user; a
// Bearer value matching an active API key identifies that key; anything
// else falls back to the caller IP. A Bearer value that is neither is
// rejected rather than silently downgraded to the IP identity.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hazyhaar/kseo/shield"
	"github.com/hazyhaar/kseo/store"
)

// ErrInvalidCredentials is returned for a Bearer value that is neither a
// valid token nor an active API key.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Methods recorded in Identity.Method.
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
	MethodIP     = "ip"
)

// Identity is the resolved actor.
type Identity struct {
	Actor  string // "user:<id>", "key:<hash prefix>" or "ip:<addr>"
	UserID string
	KeyID  string
	Scope  string
	Method string
}

// Anonymous reports whether the identity is only an IP address.
func (id Identity) Anonymous() bool { return id.Method == MethodIP }

// KeyStore is the subset of store.Store used for API keys.
type KeyStore interface {
	FindActiveKeyByHash(ctx context.Context, hash string) (*store.APIKey, error)
	TouchAPIKey(ctx context.Context, id string) error
}

// Authenticator resolves identities.
type Authenticator struct {
	secret []byte
	keys   KeyStore
	logger *slog.Logger
}

// NewAuthenticator returns an Authenticator. An empty jwtSecret disables
// JWT identities; a nil keys disables API keys.
func NewAuthenticator(jwtSecret []byte, keys KeyStore, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{secret: jwtSecret, keys: keys, logger: logger}
}

// Authenticate resolves the actor of r.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	bearer := bearerToken(r)

	if len(a.secret) > 0 {
		tok := bearer
		if c, err := r.Cookie("token"); err == nil && c.Value != "" {
			tok = c.Value
		}
		if tok != "" {
			if claims, err := ValidateToken(a.secret, tok); err == nil {
				return Identity{
					Actor:  "user:" + claims.UserID,
					UserID: claims.UserID,
					Scope:  claims.Scope,
					Method: MethodJWT,
				}, nil
			}
		}
	}

	if bearer != "" {
		if a.keys == nil {
			return Identity{}, ErrInvalidCredentials
		}
		hash := store.HashAPIKey(bearer)
		k, err := a.keys.FindActiveKeyByHash(r.Context(), hash)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				a.logger.Warn("auth: api key lookup failed", "error", err)
			}
			return Identity{}, ErrInvalidCredentials
		}
		if err := a.keys.TouchAPIKey(r.Context(), k.ID); err != nil {
			a.logger.Debug("auth: touch api key failed", "id", k.ID, "error", err)
		}
		return Identity{
			Actor:  "key:" + hash[:16],
			KeyID:  k.ID,
			Scope:  k.Scope,
			Method: MethodAPIKey,
		}, nil
	}

	return Identity{Actor: "ip:" + shield.ExtractIP(r), Method: MethodIP}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
