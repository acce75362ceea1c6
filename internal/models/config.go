package models

// Config holds the application configuration. JSON is the file format; env tags
// name the environment variables that override individual fields.
type Config struct {
	Server     ServerConfig     `json:"server"`
	WhatsApp   WhatsAppConfig   `json:"whatsapp"`
	Database   DatabaseConfig   `json:"database"`
	Encryption EncryptionConfig `json:"encryption"`
	Queue      QueueConfig      `json:"queue"`
	Webhook    WebhookConfig    `json:"webhook"`
	Redis      RedisConfig      `json:"redis"`
	Tracing    TracingConfig    `json:"tracing"`
	LogLevel   string           `json:"log_level" env:"WABAGATE_LOG_LEVEL"`
}

type ServerConfig struct {
	Port            int    `json:"port" env:"WABAGATE_PORT"`
	APIKey          string `json:"api_key" env:"WABAGATE_API_KEY"`
	ReadTimeoutSec  int    `json:"read_timeout_sec"`
	WriteTimeoutSec int    `json:"write_timeout_sec"`
	IdleTimeoutSec  int    `json:"idle_timeout_sec"`
	// RateLimitPerMinute caps requests per client IP; negative disables it.
	RateLimitPerMinute int `json:"rate_limit_per_minute"`
}

// WhatsAppConfig holds the Cloud API connection settings shared by every tenant.
type WhatsAppConfig struct {
	APIBaseURL  string `json:"api_base_url" env:"WHATSAPP_API_URL"`
	APIVersion  string `json:"api_version" env:"WHATSAPP_API_VERSION"`
	TimeoutMs   int    `json:"timeout_ms"`
	AppSecret   string `json:"app_secret" env:"WABAGATE_WHATSAPP_APP_SECRET"`
	VerifyToken string `json:"verify_token" env:"WABAGATE_WHATSAPP_VERIFY_TOKEN"`
}

type DatabaseConfig struct {
	Path string `json:"path" env:"DB_PATH"`
}

type EncryptionConfig struct {
	Secret string `json:"secret" env:"WABAGATE_ENCRYPTION_SECRET"`
}

type QueueConfig struct {
	IntervalSec     int    `json:"interval_sec"`
	BatchSize       int    `json:"batch_size"`
	MaxAttempts     int    `json:"max_attempts"`
	BaseDelaySec    int    `json:"base_delay_sec"`
	SendTimeoutSec  int    `json:"send_timeout_sec"`
	ClaimTimeoutSec int    `json:"claim_timeout_sec"`
	WorkerID        string `json:"worker_id" env:"WABAGATE_WORKER_ID"`
}

type WebhookConfig struct {
	PollIntervalSec int `json:"poll_interval_sec"`
	BatchSize       int `json:"batch_size"`
	MaxAttempts     int `json:"max_attempts"`
	RetentionDays   int `json:"retention_days"`
}

// RedisConfig enables cross-instance inbound dedup when Addr is set.
type RedisConfig struct {
	Addr        string `json:"addr" env:"WABAGATE_REDIS_ADDR"`
	Password    string `json:"password" env:"WABAGATE_REDIS_PASSWORD"`
	DB          int    `json:"db"`
	DedupTTLSec int    `json:"dedup_ttl_sec"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled" env:"WABAGATE_TRACING_ENABLED"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment" env:"WABAGATE_ENV"`
	OTLPEndpoint   string  `json:"otlp_endpoint" env:"WABAGATE_OTLP_ENDPOINT"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
