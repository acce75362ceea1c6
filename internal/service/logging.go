package service

import (
	"context"

	"wabagate/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so log helpers emit unmasked identifiers.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// MaskFields masks phones, provider ids, tokens and bodies unless ctx is verbose.
// Tokens are masked even in verbose mode.
func MaskFields(ctx context.Context, fields logrus.Fields) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	if IsVerboseLogging(ctx) {
		for k, v := range fields {
			if s, ok := v.(string); ok && isTokenField(k) {
				out[k] = privacy.MaskToken(s)
				continue
			}
			out[k] = v
		}
		return out
	}
	for k, v := range privacy.MaskSensitiveFields(fields) {
		out[k] = v
	}
	return out
}

func isTokenField(k string) bool {
	switch k {
	case "access_token", "temp_token", "token":
		return true
	}
	return false
}

// logEntry returns a logger entry with masked fields.
func logEntry(ctx context.Context, logger *logrus.Logger, fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(MaskFields(ctx, fields))
}
