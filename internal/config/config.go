package config

import (
	"encoding/json"
	"fmt"
	"os"

	"wabagate/internal/constants"
	"wabagate/internal/models"
	"wabagate/internal/security"

	"github.com/caarlos0/env/v6"
)

var (
	ErrMissingDBPath           = models.ConfigError{Message: "missing database path"}
	ErrMissingEncryptionSecret = models.ConfigError{Message: "missing encryption secret (set WABAGATE_ENCRYPTION_SECRET)"}
	ErrMissingVerifyToken      = models.ConfigError{Message: "missing webhook verify token"}
)

// IsProduction reports whether the process runs with WABAGATE_ENV=production.
func IsProduction() bool {
	return os.Getenv("WABAGATE_ENV") == "production"
}

// LoadConfig reads the JSON file at path, applies environment overrides and defaults, then validates.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyEnvironmentOverrides(c *models.Config) error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = constants.DefaultRateLimitPerMinute
	}

	if c.WhatsApp.APIBaseURL == "" {
		c.WhatsApp.APIBaseURL = constants.DefaultGraphAPIBaseURL
	}
	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = constants.DefaultGraphAPIVersion
	}
	if c.WhatsApp.TimeoutMs <= 0 {
		c.WhatsApp.TimeoutMs = constants.DefaultHTTPTimeoutMs
	}

	q := &c.Queue
	if q.IntervalSec <= 0 {
		q.IntervalSec = constants.DefaultQueueIntervalSec
	}
	if q.BatchSize <= 0 {
		q.BatchSize = constants.DefaultQueueBatchSize
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if q.BaseDelaySec <= 0 {
		q.BaseDelaySec = constants.DefaultQueueBaseDelaySec
	}
	if q.SendTimeoutSec <= 0 {
		q.SendTimeoutSec = constants.DefaultQueueSendTimeoutSec
	}
	if q.ClaimTimeoutSec <= 0 {
		q.ClaimTimeoutSec = constants.DefaultQueueClaimTimeoutSec
	}
	if q.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "wabagate"
		}
		q.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if c.Webhook.PollIntervalSec <= 0 {
		c.Webhook.PollIntervalSec = constants.DefaultWebhookPollIntervalSec
	}
	if c.Webhook.BatchSize <= 0 {
		c.Webhook.BatchSize = constants.DefaultWebhookBatchSize
	}
	if c.Webhook.MaxAttempts <= 0 {
		c.Webhook.MaxAttempts = constants.DefaultWebhookMaxAttempts
	}
	if c.Webhook.RetentionDays <= 0 {
		c.Webhook.RetentionDays = constants.DefaultWebhookRetentionDays
	}

	if c.Redis.DedupTTLSec <= 0 {
		c.Redis.DedupTTLSec = constants.DefaultDedupTTLSec
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "wabagate"
	}
	if c.Tracing.ServiceVersion == "" {
		c.Tracing.ServiceVersion = "dev"
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = "development"
	}
	if c.Tracing.OTLPEndpoint == "" {
		c.Tracing.OTLPEndpoint = "localhost:4318"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 0.1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}
	if c.Encryption.Secret == "" {
		return ErrMissingEncryptionSecret
	}
	if len(c.Encryption.Secret) < constants.MinVaultSecret {
		return models.ConfigError{Message: fmt.Sprintf("encryption secret must be at least %d characters long", constants.MinVaultSecret)}
	}
	if c.WhatsApp.VerifyToken == "" {
		return ErrMissingVerifyToken
	}
	if c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sample_rate must be between 0 and 1"}
	}
	return nil
}

// validateSecurity enforces production-only requirements
func validateSecurity(c *models.Config) error {
	if !IsProduction() {
		if c.WhatsApp.AppSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: WhatsApp app secret not set; webhook signatures will NOT be verified. Set WABAGATE_WHATSAPP_APP_SECRET.\n")
		}
		return nil
	}

	if c.WhatsApp.AppSecret == "" {
		return models.ConfigError{Message: "WhatsApp app secret is required in production (set WABAGATE_WHATSAPP_APP_SECRET environment variable)"}
	}
	if len(c.WhatsApp.AppSecret) < 32 {
		return models.ConfigError{Message: "WhatsApp app secret must be at least 32 characters long"}
	}
	if c.Server.APIKey == "" {
		return models.ConfigError{Message: "server api_key is required in production (set WABAGATE_API_KEY)"}
	}
	if c.LogLevel == "debug" {
		return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
	}
	return nil
}
