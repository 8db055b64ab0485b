package httpx

import (
	"net"
	"net/http"
	"strings"
)

// ClientIdentity derives the rate-limiting key for a request. It prefers the
// first entry of X-Forwarded-For (the original client when behind a proxy),
// then X-Real-IP, then the direct peer address. Best effort only: forwarded
// headers are spoofable and that is an accepted limitation.
func ClientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return ip
}
