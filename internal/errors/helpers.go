package errors

import (
	"fmt"
)

// Sentinels for errors.Is comparisons. They match any AppError with the same code.
var (
	ErrSessionExpired = New(ErrCodeSessionExpired, "")
	ErrNotConnected   = New(ErrCodeNotConnected, "")
	ErrNotFound       = New(ErrCodeNotFound, "")
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeInvalidInput, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewConflictError reports a uniqueness violation such as a routing key claimed by another tenant.
func NewConflictError(resource, identifier string, err error) *AppError {
	return Wrap(err, ErrCodeConflict, fmt.Sprintf("%s already exists", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s is already in use", resource))
}

// NewAPIError creates an error for a failed provider call. 5xx, 429 and 408 are retryable.
func NewAPIError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeWhatsAppAPI, "whatsapp API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)
	appErr.Retryable = statusCode >= 500 || statusCode == 429 || statusCode == 408
	if err != nil {
		appErr.UserMessage = err.Error()
	}
	return appErr
}

// NewAuthError creates an authentication error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewRoutingError reports an inbound event whose routing key matches no account.
func NewRoutingError(routingKey string) *AppError {
	return New(ErrCodeRouting, "no account for routing key").
		WithContext("routing_key", routingKey)
}

// NewStructuralTenantError reports a tenant that cannot send at all, e.g. missing account or token.
func NewStructuralTenantError(tenantID, reason string) *AppError {
	return New(ErrCodeStructuralTenant, reason).
		WithContext("tenant_id", tenantID).
		WithUserMessage("WhatsApp account is not usable: " + reason)
}

// NewNotConnectedError reports a tenant without an active account.
func NewNotConnectedError(tenantID string) *AppError {
	return New(ErrCodeNotConnected, "whatsapp account not connected").
		WithContext("tenant_id", tenantID).
		WithUserMessage("WhatsApp is not connected for this tenant")
}

// NewSessionExpiredError reports a free-form send outside the customer session.
func NewSessionExpiredError(conversationID string) *AppError {
	return New(ErrCodeSessionExpired, "session expired, template required").
		WithContext("conversation_id", conversationID).
		WithContext("requires_template", true).
		WithUserMessage("The 24-hour session has expired. Send an approved template to re-open it.")
}
