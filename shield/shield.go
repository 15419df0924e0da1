// Package shield is the HTTP edge of the kseo API: maintenance mode,
// security headers, body limits, request tracing and client IP extraction.
//
//	stack, mm := shield.APIStack(db, 1<<20)
//	mm.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"database/sql"
	"encoding/json"
	"net/http"
)

// APIStack returns the middleware every request goes through, outermost
// first. /healthz is never put in maintenance.
func APIStack(db *sql.DB, maxBody int64) ([]func(http.Handler) http.Handler, *MaintenanceMode) {
	mm := NewMaintenanceMode(db, "/healthz")
	return []func(http.Handler) http.Handler{
		TraceID,
		mm.Middleware,
		SecurityHeaders,
		MaxBody(maxBody),
	}, mm
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
