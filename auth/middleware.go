package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hazyhaar/kseo/kit"
)

type identityKey struct{}

// Middleware authenticates every request and stores the Identity in the
// context, mirrored into a kit.Caller. Invalid
// credentials get a 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Authenticate(r)
		if err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, ErrInvalidCredentials) {
				status = http.StatusInternalServerError
			}
			writeError(w, status, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, id)
	return kit.WithCaller(ctx, kit.Caller{Actor: id.Actor, UserID: id.UserID, AuthMethod: id.Method})
}

// GetIdentity returns the identity stored by Middleware.
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// RequireKey rejects requests that only carry an IP identity.
func RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetIdentity(r.Context())
		if !ok || id.Anonymous() {
			writeError(w, http.StatusUnauthorized, "api key or token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
