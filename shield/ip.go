package shield

import (
	"net"
	"net/http"
	"strings"
)

// ExtractIP returns the first X-Forwarded-For hop, else the RemoteAddr host.
// Only trust X-Forwarded-For behind a proxy that overwrites it.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
