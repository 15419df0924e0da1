package ratelimit

import (
	"encoding/json"
	"net/http"

	"github.com/hazyhaar/kseo/kit"
)

// RouteFunc maps a request to the route name used for limits and keys.
type RouteFunc func(*http.Request) string

// MethodPath names a route "METHOD /path", the rate_limits endpoint format.
func MethodPath(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// Middleware enforces defaultLimit requests per minute per actor. The actor
// is read from the context (see kit.WithActor), so authentication must run
// first. Rejected requests get a 429 JSON body.
func (l *Limiter) Middleware(route RouteFunc, defaultLimit int) func(http.Handler) http.Handler {
	if route == nil {
		route = MethodPath
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Check(r.Context(), route(r), kit.GetActor(r.Context()), defaultLimit)
			for k, v := range d.Headers {
				w.Header().Set(k, v)
			}
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":       "rate limit exceeded",
				"retry_after": d.RetryAfter,
			})
		})
	}
}
