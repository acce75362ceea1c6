package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableDBOperation_SucceedsAfterLock(t *testing.T) {
	calls := 0
	err := retryableDBOperation(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	}, "insert")

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryableDBOperation_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	cause := errors.New("UNIQUE constraint failed: messages.provider_message_id")
	err := retryableDBOperation(context.Background(), func() error {
		calls++
		return cause
	}, "insert")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestRetryableDBOperation_GivesUp(t *testing.T) {
	calls := 0
	err := retryableDBOperation(context.Background(), func() error {
		calls++
		return errors.New("database is locked")
	}, "insert")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestRetryableDBOperation_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryableDBOperation(ctx, func() error { return nil }, "insert")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryableDBError(t *testing.T) {
	assert.True(t, isRetryableDBError(errors.New("database is locked")))
	assert.True(t, isRetryableDBError(errors.New("disk I/O error")))
	assert.False(t, isRetryableDBError(errors.New("no such table: x")))
	assert.False(t, isRetryableDBError(context.DeadlineExceeded))
	assert.False(t, isRetryableDBError(nil))
}
