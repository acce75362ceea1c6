package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"wabagate/internal/httputil"
	"wabagate/internal/metrics"

	"github.com/sirupsen/logrus"
)

// APIKeyHeader carries the operator API key.
const APIKeyHeader = "X-Api-Key"

// APIKeyMiddleware rejects requests that do not present apiKey. An empty key
// disables the check. Browser websocket clients cannot set headers, so the
// api_key query parameter is accepted too.
func APIKeyMiddleware(apiKey string, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(APIKeyHeader)
			if presented == "" {
				presented = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				metrics.IncrementCounter("http_unauthorized_total", nil, "Requests rejected for a missing or wrong API key")
				logger.WithField("remote_ip", httputil.GetClientIP(r)).Warn("Rejected request with invalid API key")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
