package service

// Logging Standards for wabagate
//
// Standard field names and message patterns so every component logs the
// same way. Fields holding phones, provider ids or tokens pass through
// MaskFields before they reach the logger.

// Standard Field Names
const (
	// Tenancy and routing
	LogFieldTenantID       = "tenant_id"
	LogFieldAccountID      = "account_id"
	LogFieldRoutingKey     = "routing_key"
	LogFieldWABAID         = "waba_id"
	LogFieldConversationID = "conversation_id"
	LogFieldPhone          = "phone"

	// Messages and queue
	LogFieldMessageID    = "message_id"
	LogFieldProviderID   = "provider_message_id"
	LogFieldMessageType  = "message_type"
	LogFieldDirection    = "direction"
	LogFieldStatus       = "status"
	LogFieldQueueItemID  = "queue_item_id"
	LogFieldEventID      = "webhook_event_id"
	LogFieldTemplate     = "template_name"
	LogFieldLanguage     = "language"
	LogFieldWorkerID     = "worker_id"
	LogFieldWebhookField = "field"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Request tracing
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Error and retry
	LogFieldErrorCode   = "error_code"
	LogFieldAttempt     = "attempt"
	LogFieldMaxAttempts = "max_attempts"
	LogFieldNextAttempt = "next_attempt_at"
)

// Log Level Usage Guidelines
//
// DEBUG: per-item flow detail (claim won/lost, duplicate skipped).
// INFO: state changes (account connected, item sent, template approved).
// WARN: retryable failures, unroutable events, unsigned webhooks in dev mode.
// ERROR: failed operations that need an operator (permanent failures, store errors).
//
// Message patterns:
//
// Starting operations: "Starting [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
