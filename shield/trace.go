package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/kseo/kit"
)

type loggerKey struct{}

// TraceID tags each request with a 16-hex-char id, reusing a well-formed
// incoming X-Trace-ID. The id is echoed in the response, stored with
// kit.WithTraceID, and attached to a per-request logger with the client IP.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Trace-ID")
		if !validTraceID(id) {
			b := make([]byte, 8)
			rand.Read(b)
			id = hex.EncodeToString(b)
		}
		ip := ExtractIP(r)
		w.Header().Set("X-Trace-ID", id)

		logger := slog.Default().With("trace_id", id, "method", r.Method, "path", r.URL.Path, "remote_addr", ip)
		ctx := kit.WithTraceID(r.Context(), id)
		ctx = kit.WithRemoteAddr(ctx, ip)
		ctx = context.WithValue(ctx, loggerKey{}, logger)
		logger.Debug("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLogger returns the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func validTraceID(s string) bool {
	if len(s) != 16 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
