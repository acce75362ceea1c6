package service

import (
	"context"
	stderrors "errors"

	apperrors "wabagate/internal/errors"
	"wabagate/pkg/circuitbreaker"
	"wabagate/pkg/whatsapp"
)

// providerError classifies a Graph API failure into the gateway's error taxonomy.
func providerError(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := whatsapp.AsAPIError(err); ok {
		if apiErr.IsAuthError() {
			return apperrors.Wrap(err, apperrors.ErrCodeAuthentication, "provider rejected the access token").
				WithContext("endpoint", apiErr.Endpoint).
				WithUserMessage("The WhatsApp access token was rejected. Reconnect the account.")
		}
		return apperrors.NewAPIError(apiErr.Endpoint, apiErr.StatusCode, apiErr)
	}
	if stderrors.Is(err, whatsapp.ErrMissingToken) {
		return apperrors.Wrap(err, apperrors.ErrCodeStructuralTenant, "no access token")
	}
	if stderrors.Is(err, whatsapp.ErrNoBusinessAccount) || stderrors.Is(err, whatsapp.ErrNoWABA) {
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "no WhatsApp Business Account for this token").
			WithUserMessage(err.Error())
	}
	if circuitbreaker.IsCircuitBreakerError(err) {
		return apperrors.WrapRetryable(err, apperrors.ErrCodeWhatsAppAPI, "provider temporarily unavailable")
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return apperrors.WrapRetryable(err, apperrors.ErrCodeWhatsAppAPI, "provider call timed out")
	}
	// Transport failures (DNS, reset connections) are worth another attempt.
	return apperrors.WrapRetryable(err, apperrors.ErrCodeWhatsAppAPI, "provider call failed")
}

// isTerminalSendError reports failures that only a reconnect fixes: a
// missing or rejected access token. Every other provider error is retried
// until the item runs out of attempts.
func isTerminalSendError(err error) bool {
	if stderrors.Is(err, whatsapp.ErrMissingToken) {
		return true
	}
	apiErr, ok := whatsapp.AsAPIError(err)
	return ok && apiErr.IsAuthError()
}

// countsAgainstProvider decides which send errors trip the circuit breaker.
// A bad recipient or a rejected token says nothing about the provider's health.
func countsAgainstProvider(err error) bool {
	if stderrors.Is(err, context.Canceled) || isTerminalSendError(err) {
		return false
	}
	if apiErr, ok := whatsapp.AsAPIError(err); ok {
		return apiErr.Retryable()
	}
	return true
}

// isRetryableProviderError retries throttling, 5xx and transport failures
// during account setup calls.
func isRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := whatsapp.AsAPIError(err); ok {
		return apiErr.Retryable()
	}
	switch {
	case stderrors.Is(err, whatsapp.ErrMissingToken),
		stderrors.Is(err, whatsapp.ErrNoBusinessAccount),
		stderrors.Is(err, whatsapp.ErrNoWABA),
		stderrors.Is(err, context.Canceled):
		return false
	}
	return true
}
