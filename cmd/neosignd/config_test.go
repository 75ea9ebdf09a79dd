package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neosign/neoauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "redis", cfg.Code.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Code.TTL)
	assert.True(t, cfg.Audit.Enabled)
}

func TestLoadConfigLayers(t *testing.T) {
	path := writeFile(t, "neosignd.toml", `
listen = ":9090"
allowed_origins = ["https://app.neosign.eu"]
redis_addr = "redis:6379"

[code]
backend = "memory"
ttl = "5m"

[stepup]
max_failed_attempts = 3

[[users]]
id = "user-1"
email = "a@x.com"
`)
	t.Setenv("NEOSIGN_LISTEN", ":7070")
	t.Setenv("NEOSIGN_CODE_TTL", "2m")
	t.Setenv("NEOSIGN_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := loadConfig(path, "")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Listen, "env overrides file")
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "memory", cfg.Code.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Code.TTL)
	assert.Equal(t, 3, cfg.StepUp.MaxFailedAttempts)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "a@x.com", cfg.Users[0].Email)
}

func TestLoadConfigEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "NEOSIGN_STEPUP_MAX_FAILURES=7\nNEOSIGN_EMBEDDED_REDIS=true\n")
	t.Cleanup(func() {
		os.Unsetenv("NEOSIGN_STEPUP_MAX_FAILURES")
		os.Unsetenv("NEOSIGN_EMBEDDED_REDIS")
	})

	cfg, err := loadConfig("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.StepUp.MaxFailedAttempts)
	assert.True(t, cfg.EmbeddedRedis)

	_, err = loadConfig("", filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err, "a missing env file is ignored")
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	t.Setenv("NEOSIGN_CODE_TTL", "soon")
	t.Setenv("REDIS_DB", "x")

	cfg, err := loadConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Code.TTL)
	assert.Equal(t, 0, cfg.RedisDB)
}

func TestLoadConfigRejectsBadTOML(t *testing.T) {
	path := writeFile(t, "bad.toml", "listen = ")
	_, err := loadConfig(path, "")
	assert.Error(t, err)
}

func TestProductionValidation(t *testing.T) {
	t.Setenv("NEOSIGN_PRODUCTION", "true")

	_, err := loadConfig("", "")
	require.Error(t, err)

	t.Setenv("NEOSIGN_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DB_CONN", "postgres://neosign@localhost/neosign")
	cfg, err := loadConfig("", "")
	require.NoError(t, err)
	assert.True(t, cfg.Production)

	t.Setenv("NEOSIGN_EMBEDDED_REDIS", "true")
	_, err = loadConfig("", "")
	assert.ErrorContains(t, err, "embedded_redis")
}

func TestEngineConfigMapping(t *testing.T) {
	cfg := defaultDaemonConfig()
	cfg.Code.Backend = "memory"
	cfg.StepUp.MaxFailedAttempts = 4
	cfg.Production = true

	secret := []byte("0123456789abcdef0123456789abcdef")
	ec := cfg.engineConfig(secret)

	assert.Equal(t, neoauth.CodeBackendMemory, ec.OneTimeCode.Backend)
	assert.Equal(t, 4, ec.StepUp.MaxFailedAttempts)
	assert.True(t, ec.Security.ProductionMode)
	assert.True(t, ec.Metrics.Enabled)
	assert.Equal(t, secret, ec.JWT.PrivateKey)
}

func TestLoadConfigDelivery(t *testing.T) {
	path := writeFile(t, "neosignd.toml", `
[delivery]
webhook_url = "https://relay.neosign.internal/send"
webhook_timeout = "3s"
`)
	t.Setenv("NEOSIGN_DELIVERY_WEBHOOK_TOKEN", "relay-token")

	cfg, err := loadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, "https://relay.neosign.internal/send", cfg.Delivery.WebhookURL)
	assert.Equal(t, "relay-token", cfg.Delivery.WebhookToken)
	assert.Equal(t, 3*time.Second, cfg.Delivery.WebhookTimeout)
	assert.True(t, cfg.Delivery.configured())
	assert.False(t, defaultDaemonConfig().Delivery.configured())
}

func TestProductionRejectsDevLogCodes(t *testing.T) {
	t.Setenv("NEOSIGN_PRODUCTION", "true")
	t.Setenv("NEOSIGN_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DB_CONN", "postgres://neosign@localhost/neosign")
	t.Setenv("NEOSIGN_DEV_LOG_CODES", "true")

	_, err := loadConfig("", "")
	assert.ErrorContains(t, err, "dev_log_codes")
}
