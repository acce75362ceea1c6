package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wabagate/internal/constants"
)

const (
	dbRetryInitialBackoff = 50 * time.Millisecond
	dbRetryMaxBackoff     = time.Second
)

// retryableDBOperation runs a write that may hit a transient SQLite lock.
func retryableDBOperation(ctx context.Context, operation func() error, operationName string) error {
	var lastErr error
	maxAttempts := constants.DefaultDatabaseRetryAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableDBError(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * dbRetryInitialBackoff
		if backoff > dbRetryMaxBackoff {
			backoff = dbRetryMaxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}

// isRetryableDBError reports lock contention and transient I/O errors
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "disk I/O error")
}
