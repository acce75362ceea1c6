package constants

import "time"

// Server defaults
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
)

// Provider defaults
const (
	DefaultGraphAPIBaseURL = "https://graph.facebook.com"
	DefaultGraphAPIVersion = "v17.0"
	DefaultHTTPTimeoutMs   = 15000
	MaxTextBodyLength      = 4096
)

// Outbound queue defaults
const (
	DefaultQueueIntervalSec     = 10
	DefaultQueueBatchSize       = 20
	DefaultQueueMaxAttempts     = 3
	DefaultQueueBaseDelaySec    = 60
	DefaultQueueSendTimeoutSec  = 30
	DefaultQueueClaimTimeoutSec = 300
)

// Webhook inbox defaults
const (
	DefaultWebhookPollIntervalSec = 5
	DefaultWebhookBatchSize       = 50
	DefaultWebhookMaxAttempts     = 5
	DefaultWebhookRetentionDays   = 7
)

// Maintenance scheduler
const DefaultMaintenanceIntervalMin = 15

// Rate limiting per client IP
const (
	DefaultRateLimitPerMinute = 600
	RateLimitCleanupInterval  = 5 * time.Minute
)

// Redis dedup defaults
const (
	DefaultDedupTTLSec = 24 * 60 * 60
	DedupKeyPrefix     = "wabagate:inbound:"
)

// SessionWindow is how long a customer session permits free-form replies.
const SessionWindow = 24 * time.Hour

// Database defaults
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultDatabaseBusyTimeoutMs = 5000
)

// Vault key derivation
const (
	PBKDF2Iterations = 100000
	VaultSaltSize    = 16
	VaultNonceSize   = 12
	VaultTagSize     = 16
	VaultKeySize     = 32
	MinVaultSecret   = 32
)

// Pagination
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)

// Input validation limits
const (
	MinPhoneDigits         = 7
	MaxPhoneDigits         = 15
	MaxTemplateNameLength  = 512
	MaxTenantIDLength      = 128
	MaxMessageIDLength     = 256
	VerificationCodeLength = 6
	MaxRequestBodyBytes    = 1 << 20
	MaxWebhookBodyBytes    = 4 << 20
	MaxTemplateParameters  = 20
)
