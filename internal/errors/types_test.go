package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without cause",
			err:      New(ErrCodeInvalidConfig, "configuration is invalid"),
			expected: "INVALID_CONFIG: configuration is invalid",
		},
		{
			name:     "with cause",
			err:      Wrap(stderrors.New("connection refused"), ErrCodeDatabaseQuery, "query failed"),
			expected: "DATABASE_QUERY: query failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_IsMatchesSentinelThroughWrapping(t *testing.T) {
	err := fmt.Errorf("send failed: %w", NewSessionExpiredError("conv-1"))

	assert.True(t, stderrors.Is(err, ErrSessionExpired))
	assert.False(t, stderrors.Is(err, ErrNotConnected))
	assert.Equal(t, ErrCodeSessionExpired, GetCode(err))
}

func TestAppError_WithContext(t *testing.T) {
	err := New(ErrCodeInvalidInput, "bad").WithContext("field", "phone")

	assert.Equal(t, "phone", err.Context["field"])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewAPIError("/messages", 503, stderrors.New("unavailable"))))
	assert.True(t, IsRetryable(NewAPIError("/messages", 429, stderrors.New("slow down"))))
	assert.False(t, IsRetryable(NewAPIError("/messages", 400, stderrors.New("bad request"))))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestGetUserMessage(t *testing.T) {
	assert.Equal(t, "An internal error occurred", GetUserMessage(stderrors.New("x")))
	assert.Equal(t, "conversation not found", GetUserMessage(NewNotFoundError("conversation", "c1")))
	assert.Equal(t, "raw", GetUserMessage(New(ErrCodeInternalError, "raw")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NewValidationError("body", "empty"), http.StatusBadRequest},
		{NewAuthError("signature"), http.StatusUnauthorized},
		{NewNotFoundError("conversation", "x"), http.StatusNotFound},
		{NewSessionExpiredError("x"), http.StatusConflict},
		{NewConflictError("routing key", "123", nil), http.StatusConflict},
		{NewNotConnectedError("t1"), http.StatusPreconditionFailed},
		{NewAPIError("/x", 500, nil), http.StatusBadGateway},
		{stderrors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(tt.err), tt.err.Error())
	}
}
