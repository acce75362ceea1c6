// Package httputil holds small request helpers shared by the HTTP layers.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the caller's address as the proxy chain reports it: the
// first X-Forwarded-For hop, then X-Real-IP, then RemoteAddr without its port.
// Valid addresses come back in canonical form so equivalent IPv6 spellings
// compare equal; anything unparseable is returned trimmed but otherwise as is.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return canonicalIP(ip)
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return canonicalIP(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return canonicalIP(r.RemoteAddr)
	}
	return canonicalIP(host)
}

func canonicalIP(s string) string {
	s = strings.Trim(s, "[]")
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return s
}
