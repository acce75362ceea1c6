package httputil

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"forwarded single hop", "10.0.0.1:1000", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "203.0.113.5"},
		{"forwarded chain takes first", "10.0.0.1:1000", map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.9"}, "198.51.100.7"},
		{"forwarded with spaces", "10.0.0.1:1000", map[string]string{"X-Forwarded-For": "  203.0.113.10  ,  198.51.100.2"}, "203.0.113.10"},
		{"forwarded ipv6 canonicalised", "10.0.0.1:1000", map[string]string{"X-Forwarded-For": "2001:DB8:0:0::1"}, "2001:db8::1"},
		{"real ip when no forwarded", "10.0.0.1:1000", map[string]string{"X-Real-IP": "203.0.113.12"}, "203.0.113.12"},
		{"forwarded beats real ip", "10.0.0.1:1000", map[string]string{"X-Forwarded-For": "198.51.100.77", "X-Real-IP": "203.0.113.200"}, "198.51.100.77"},
		{"remote addr ipv4", "192.0.2.55:54321", nil, "192.0.2.55"},
		{"remote addr bracketed ipv6", "[2001:db8::5]:8443", nil, "2001:db8::5"},
		{"malformed remote addr kept", "not_an_ip_port", nil, "not_an_ip_port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}
