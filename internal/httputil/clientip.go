package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP resolves the originating address of a request. Proxy
// headers win over the socket peer: X-Forwarded-For carries the whole
// hop chain, X-Real-IP a single address, and RemoteAddr is the direct
// peer with its port still attached.
func GetClientIP(r *http.Request) string {
	// The leftmost X-Forwarded-For entry is the original client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	// Single-address variant set by some reverse proxies
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	// RemoteAddr is host:port, bracketed for IPv6; hand the raw value
	// back when it does not parse as such
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
