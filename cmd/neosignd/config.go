package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/neosign/neoauth"
)

// daemonConfig is the neosignd configuration. Values are layered: defaults,
// then the TOML file, then NEOSIGN_* environment variables.
type daemonConfig struct {
	Listen         string   `toml:"listen"`
	LogLevel       string   `toml:"log_level"`
	AllowedOrigins []string `toml:"allowed_origins"`
	Production     bool     `toml:"production"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	EmbeddedRedis bool   `toml:"embedded_redis"`

	PostgresDSN string `toml:"postgres_dsn"`

	JWTSecret string `toml:"jwt_secret"`

	Code     codeSection     `toml:"code"`
	StepUp   stepUpSection   `toml:"stepup"`
	Audit    auditSection    `toml:"audit"`
	Delivery deliverySection `toml:"delivery"`

	// Users seeds the in-memory provider when no PostgresDSN is set.
	Users []seedUser `toml:"users"`
}

type codeSection struct {
	Backend           string        `toml:"backend"`
	TTL               time.Duration `toml:"ttl"`
	SweepInterval     time.Duration `toml:"sweep_interval"`
	MaxIssuePerWindow int           `toml:"max_issue_per_window"`
	IssueWindow       time.Duration `toml:"issue_window"`
}

type stepUpSection struct {
	RequirementTTL    time.Duration `toml:"requirement_ttl"`
	MaxFailedAttempts int           `toml:"max_failed_attempts"`
}

type auditSection struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
}

// deliverySection picks how codes reach users. serve needs WebhookURL, or
// DevLogCodes outside production.
type deliverySection struct {
	WebhookURL     string        `toml:"webhook_url"`
	WebhookToken   string        `toml:"webhook_token"`
	WebhookTimeout time.Duration `toml:"webhook_timeout"`
	DevLogCodes    bool          `toml:"dev_log_codes"`
}

func (d deliverySection) configured() bool {
	return d.WebhookURL != "" || d.DevLogCodes
}

type seedUser struct {
	ID    string `toml:"id"`
	Email string `toml:"email"`
}

func defaultDaemonConfig() daemonConfig {
	engine := neoauth.DefaultConfig()
	return daemonConfig{
		Listen:    ":8080",
		LogLevel:  "info",
		RedisAddr: "localhost:6379",
		Code: codeSection{
			Backend:       string(engine.OneTimeCode.Backend),
			TTL:           engine.OneTimeCode.DefaultTTL,
			SweepInterval: time.Minute,
			IssueWindow:   engine.OneTimeCode.IssueWindow,
		},
		StepUp: stepUpSection{
			RequirementTTL:    engine.StepUp.RequirementTTL,
			MaxFailedAttempts: 5,
		},
		Audit: auditSection{
			Enabled:    true,
			BufferSize: 1024,
		},
		Delivery: deliverySection{
			WebhookTimeout: 10 * time.Second,
		},
	}
}

// loadConfig applies the TOML file at path, if any, and then the
// environment. A missing envFile is not an error.
func loadConfig(path, envFile string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}
	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *daemonConfig) {
	cfg.Listen = getEnv("NEOSIGN_LISTEN", cfg.Listen)
	cfg.LogLevel = getEnv("NEOSIGN_LOG_LEVEL", cfg.LogLevel)
	cfg.AllowedOrigins = getEnvList("NEOSIGN_ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.Production = getEnvBool("NEOSIGN_PRODUCTION", cfg.Production)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASS", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.EmbeddedRedis = getEnvBool("NEOSIGN_EMBEDDED_REDIS", cfg.EmbeddedRedis)

	cfg.PostgresDSN = getEnv("DB_CONN", cfg.PostgresDSN)
	cfg.JWTSecret = getEnv("NEOSIGN_JWT_SECRET", cfg.JWTSecret)

	cfg.Code.Backend = getEnv("NEOSIGN_CODE_BACKEND", cfg.Code.Backend)
	cfg.Code.TTL = getEnvDuration("NEOSIGN_CODE_TTL", cfg.Code.TTL)
	cfg.Code.SweepInterval = getEnvDuration("NEOSIGN_CODE_SWEEP_INTERVAL", cfg.Code.SweepInterval)
	cfg.Code.MaxIssuePerWindow = getEnvInt("NEOSIGN_CODE_MAX_PER_WINDOW", cfg.Code.MaxIssuePerWindow)
	cfg.Code.IssueWindow = getEnvDuration("NEOSIGN_CODE_WINDOW", cfg.Code.IssueWindow)

	cfg.StepUp.RequirementTTL = getEnvDuration("NEOSIGN_STEPUP_TTL", cfg.StepUp.RequirementTTL)
	cfg.StepUp.MaxFailedAttempts = getEnvInt("NEOSIGN_STEPUP_MAX_FAILURES", cfg.StepUp.MaxFailedAttempts)

	cfg.Audit.Enabled = getEnvBool("NEOSIGN_AUDIT_ENABLED", cfg.Audit.Enabled)
	cfg.Audit.BufferSize = getEnvInt("NEOSIGN_AUDIT_BUFFER", cfg.Audit.BufferSize)

	cfg.Delivery.WebhookURL = getEnv("NEOSIGN_DELIVERY_WEBHOOK_URL", cfg.Delivery.WebhookURL)
	cfg.Delivery.WebhookToken = getEnv("NEOSIGN_DELIVERY_WEBHOOK_TOKEN", cfg.Delivery.WebhookToken)
	cfg.Delivery.WebhookTimeout = getEnvDuration("NEOSIGN_DELIVERY_WEBHOOK_TIMEOUT", cfg.Delivery.WebhookTimeout)
	cfg.Delivery.DevLogCodes = getEnvBool("NEOSIGN_DEV_LOG_CODES", cfg.Delivery.DevLogCodes)
}

func (c daemonConfig) validate() error {
	if c.Listen == "" {
		return errors.New("listen address must be set")
	}
	if c.RedisAddr == "" && !c.EmbeddedRedis {
		return errors.New("redis_addr must be set unless embedded_redis is enabled")
	}
	if c.Production {
		if c.EmbeddedRedis {
			return errors.New("embedded_redis is not allowed in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("jwt_secret of at least 32 bytes is required in production")
		}
		if c.PostgresDSN == "" {
			return errors.New("postgres_dsn is required in production")
		}
		if c.Delivery.DevLogCodes {
			return errors.New("delivery.dev_log_codes is not allowed in production")
		}
	}
	return nil
}

var errNoDelivery = errors.New("no code delivery configured: set delivery.webhook_url or pass --dev-log-codes")

// engineConfig maps the daemon settings onto the engine configuration.
func (c daemonConfig) engineConfig(secret []byte) neoauth.Config {
	cfg := neoauth.DefaultConfig()
	cfg.OneTimeCode.Backend = neoauth.CodeBackend(c.Code.Backend)
	cfg.OneTimeCode.DefaultTTL = c.Code.TTL
	cfg.OneTimeCode.SweepInterval = c.Code.SweepInterval
	cfg.OneTimeCode.MaxIssuePerWindow = c.Code.MaxIssuePerWindow
	cfg.OneTimeCode.IssueWindow = c.Code.IssueWindow
	cfg.StepUp.RequirementTTL = c.StepUp.RequirementTTL
	cfg.StepUp.MaxFailedAttempts = c.StepUp.MaxFailedAttempts
	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Audit.BufferSize = c.Audit.BufferSize
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Security.ProductionMode = c.Production
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = secret
	return cfg
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
