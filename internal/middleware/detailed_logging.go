package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"

	"wabagate/internal/httputil"
	"wabagate/internal/service"
	"wabagate/internal/tracing"

	"github.com/sirupsen/logrus"
)

const maskedValue = "***MASKED***"

// DetailedLoggingConfig controls the debug request dump. Bodies are never
// logged verbatim: customer messages travel in them.
type DetailedLoggingConfig struct {
	LogRequestHeaders bool
	// LogRequestBody logs the size and top-level JSON keys of request bodies.
	LogRequestBody   bool
	LogResponse      bool
	MaxBodySize      int64
	SensitiveHeaders []string
	SensitiveQuery   []string
	SkipPrefixes     []string
}

func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogResponse:       true,
		MaxBodySize:       64 << 10,
		SensitiveHeaders: []string{
			"Authorization", "X-Api-Key", "X-Hub-Signature-256", "X-Hub-Signature", "Cookie", "Set-Cookie",
		},
		SensitiveQuery: []string{"hub.verify_token", "api_key", "access_token"},
		SkipPrefixes:   []string{"/metrics", "/health", "/ws/"},
	}
}

// DetailedLoggingMiddleware dumps masked request metadata at debug level.
func DetailedLoggingMiddleware(logger *logrus.Logger, cfg DetailedLoggingConfig) func(http.Handler) http.Handler {
	sensitive := make(map[string]bool, len(cfg.SensitiveHeaders))
	for _, h := range cfg.SensitiveHeaders {
		sensitive[http.CanonicalHeaderKey(h)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range cfg.SkipPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			requestID := tracing.GetRequestID(r.Context())
			fields := logrus.Fields{
				service.LogFieldRequestID: requestID,
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       maskQuery(r, cfg.SensitiveQuery),
				service.LogFieldRemoteIP:  httputil.GetClientIP(r),
				"content_length":          r.ContentLength,
			}
			if cfg.LogRequestHeaders {
				fields["request_headers"] = maskHeaders(r.Header, sensitive)
			}
			if cfg.LogRequestBody && isJSON(r.Header.Get("Content-Type")) {
				if shape, ok := bodyShape(r, cfg.MaxBodySize); ok {
					fields["request_body_keys"] = shape
				}
			}
			logger.WithFields(fields).Debug("Detailed request logging")

			if !cfg.LogResponse {
				next.ServeHTTP(w, r)
				return
			}
			counter := &countingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(counter, r)
			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  requestID,
				service.LogFieldStatusCode: counter.status,
				service.LogFieldSize:       counter.bytes,
				"response_headers":         maskHeaders(w.Header(), sensitive),
			}).Debug("Detailed response logging")
		})
	}
}

func maskHeaders(h http.Header, sensitive map[string]bool) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if sensitive[http.CanonicalHeaderKey(name)] {
			out[name] = maskedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func maskQuery(r *http.Request, keys []string) string {
	q := r.URL.Query()
	for _, key := range keys {
		if q.Has(key) {
			q.Set(key, maskedValue)
		}
	}
	u := *r.URL
	u.RawQuery = q.Encode()
	return u.String()
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(strings.ToLower(contentType)), "application/json")
}

// bodyShape reads the body, restores it for the handler and returns its
// sorted top-level JSON keys.
func bodyShape(r *http.Request, limit int64) ([]string, bool) {
	if r.Body == nil || r.ContentLength > limit {
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	if err != nil || int64(len(body)) > limit {
		return nil, false
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, false
	}
	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, true
}

type countingWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (c *countingWriter) WriteHeader(code int) {
	if !c.wroteHeader {
		c.status = code
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.wroteHeader = true
	n, err := c.ResponseWriter.Write(p)
	c.bytes += n
	return n, err
}

func (c *countingWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }
