package shield

import (
	"net/http"
	"strconv"
)

// MaxBody rejects a declared Content-Length above maxBytes with 413 and caps
// streamed bodies, so a handler reading past the limit gets an error.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes <= 0 || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
					"error": "request body exceeds " + strconv.FormatInt(maxBytes, 10) + " bytes",
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
