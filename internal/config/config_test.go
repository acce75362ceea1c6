package config

import (
	"os"
	"path/filepath"
	"testing"

	"wabagate/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"database": {"path": "wabagate.db"},
		"encryption": {"secret": "`+testSecret+`"},
		"whatsapp": {"verify_token": "verify-me"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultGraphAPIBaseURL, cfg.WhatsApp.APIBaseURL)
	assert.Equal(t, constants.DefaultGraphAPIVersion, cfg.WhatsApp.APIVersion)
	assert.Equal(t, constants.DefaultQueueMaxAttempts, cfg.Queue.MaxAttempts)
	assert.Equal(t, constants.DefaultQueueBaseDelaySec, cfg.Queue.BaseDelaySec)
	assert.NotEmpty(t, cfg.Queue.WorkerID)
	assert.Equal(t, constants.DefaultWebhookRetentionDays, cfg.Webhook.RetentionDays)
	assert.Equal(t, constants.DefaultRateLimitPerMinute, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"database": {"path": "wabagate.db"},
		"encryption": {"secret": "`+testSecret+`"},
		"whatsapp": {"verify_token": "from-file", "app_secret": "file-secret"}
	}`)
	t.Setenv("WABAGATE_WHATSAPP_VERIFY_TOKEN", "from-env")
	t.Setenv("WABAGATE_WHATSAPP_APP_SECRET", "env-secret")
	t.Setenv("DB_PATH", "override.db")
	t.Setenv("WABAGATE_REDIS_ADDR", "localhost:6379")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.WhatsApp.VerifyToken)
	assert.Equal(t, "env-secret", cfg.WhatsApp.AppSecret)
	assert.Equal(t, "override.db", cfg.Database.Path)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"missing db", `{"encryption":{"secret":"` + testSecret + `"},"whatsapp":{"verify_token":"v"}}`, ErrMissingDBPath},
		{"missing secret", `{"database":{"path":"a.db"},"whatsapp":{"verify_token":"v"}}`, ErrMissingEncryptionSecret},
		{"missing verify token", `{"database":{"path":"a.db"},"encryption":{"secret":"` + testSecret + `"}}`, ErrMissingVerifyToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Equal(t, tt.want, err)
		})
	}
}

func TestLoadConfig_ShortEncryptionSecret(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"database":{"path":"a.db"},"encryption":{"secret":"short"},"whatsapp":{"verify_token":"v"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
}

func TestLoadConfig_ProductionRequiresAppSecret(t *testing.T) {
	t.Setenv("WABAGATE_ENV", "production")
	path := writeConfig(t, `{
		"database": {"path": "wabagate.db"},
		"encryption": {"secret": "`+testSecret+`"},
		"whatsapp": {"verify_token": "v"},
		"server": {"api_key": "k"}
	}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app secret is required")

	t.Setenv("WABAGATE_WHATSAPP_APP_SECRET", testSecret)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Tracing.Environment)
}

func TestLoadConfig_RejectsTraversal(t *testing.T) {
	_, err := LoadConfig("../config.json")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{not json`))
	assert.Error(t, err)
}
