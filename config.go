package neoauth

import (
	"errors"
	"strings"
	"time"
)

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override individual sections.
type Config struct {
	OneTimeCode OneTimeCodeConfig
	TOTP        TOTPConfig
	StepUp      StepUpConfig
	Deletion    DeletionConfig
	Session     SessionConfig
	JWT         JWTConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Security    SecurityConfig
}

/*
====================================
ONE-TIME CODE CONFIG
====================================
*/

// CodeBackend selects where one-time codes live.
type CodeBackend string

const (
	CodeBackendRedis  CodeBackend = "redis"
	CodeBackendMemory CodeBackend = "memory"
)

// OneTimeCodeConfig controls issuance and storage of numeric codes.
//
// ExpiredRetention keeps expired codes in Redis past their expiry so that a
// late verify reports ErrCodeExpired rather than ErrCodeNotFound. A positive
// SweepInterval starts a background cleanup goroutine stopped by Engine.Close.
type OneTimeCodeConfig struct {
	Backend           CodeBackend
	RedisPrefix       string
	DefaultTTL        time.Duration
	ExpiredRetention  time.Duration
	SweepInterval     time.Duration
	MaxIssuePerWindow int
	IssueWindow       time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls authenticator app verification. Skew is the number of
// adjacent time steps accepted on each side; zero accepts the current step only.
//
// EnforceReplayProtection is opt-in. When set, a code is rejected if its time
// step is not newer than the last accepted one, so a user who enrolled or
// passed a step-up within the current step must wait for the next code.
type TOTPConfig struct {
	Issuer                  string
	Digits                  int
	Period                  int
	Algorithm               string
	Skew                    int
	EnforceReplayProtection bool
}

/*
====================================
STEP-UP CONFIG
====================================
*/

// StepUpConfig controls multi-factor step-up sessions.
//
// MaxFailedAttempts of zero leaves factor verification unlimited until the
// requirement expires.
type StepUpConfig struct {
	RedisPrefix         string
	RequirementTTL      time.Duration
	MaxFactors          int
	MinCompletedFactors int
	ExpiredRetention    time.Duration
	MaxFailedAttempts   int
	FailureWindow       time.Duration
	DefaultIPAddress    string
	DefaultUserAgent    string
}

/*
====================================
ACCOUNT DELETION CONFIG
====================================
*/

type DeletionConfig struct {
	GracePeriod time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls application login sessions revoked on deletion.
type SessionConfig struct {
	RedisPrefix string
	TTL         time.Duration
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls the step-up session token.
type JWTConfig struct {
	TTL           time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds deployment-wide hardening switches. ProductionMode
// tightens validation of the other sections.
type SecurityConfig struct {
	ProductionMode bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. JWT keys are not set and
// must be supplied before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		OneTimeCode: OneTimeCodeConfig{
			Backend:           CodeBackendRedis,
			RedisPrefix:       "otc",
			DefaultTTL:        10 * time.Minute,
			ExpiredRetention:  10 * time.Minute,
			SweepInterval:     0,
			MaxIssuePerWindow: 0,
			IssueWindow:       10 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:                  "NeoSign",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    0,
			EnforceReplayProtection: false,
		},
		StepUp: StepUpConfig{
			RedisPrefix:         "sus",
			RequirementTTL:      10 * time.Minute,
			MaxFactors:          2,
			MinCompletedFactors: 2,
			ExpiredRetention:    10 * time.Minute,
			MaxFailedAttempts:   0,
			FailureWindow:       10 * time.Minute,
			DefaultIPAddress:    "127.0.0.1",
			DefaultUserAgent:    "unknown",
		},
		Deletion: DeletionConfig{
			GracePeriod: 15 * 24 * time.Hour,
		},
		Session: SessionConfig{
			RedisPrefix: "as",
			TTL:         7 * 24 * time.Hour,
		},
		JWT: JWTConfig{
			TTL:           10 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "neosign",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting. Build calls it; callers that
// load configuration from files can call it early for a clearer error.
func (c *Config) Validate() error {
	// One-time codes
	switch c.OneTimeCode.Backend {
	case CodeBackendRedis, CodeBackendMemory:
	default:
		return errors.New("OneTimeCode Backend must be 'redis' or 'memory'")
	}
	if c.OneTimeCode.DefaultTTL <= 0 {
		return errors.New("OneTimeCode DefaultTTL must be > 0")
	}
	if c.OneTimeCode.ExpiredRetention < 0 {
		return errors.New("OneTimeCode ExpiredRetention must be >= 0")
	}
	if c.OneTimeCode.SweepInterval < 0 {
		return errors.New("OneTimeCode SweepInterval must be >= 0")
	}
	if c.OneTimeCode.MaxIssuePerWindow < 0 {
		return errors.New("OneTimeCode MaxIssuePerWindow must be >= 0")
	}
	if c.OneTimeCode.MaxIssuePerWindow > 0 && c.OneTimeCode.IssueWindow <= 0 {
		return errors.New("OneTimeCode IssueWindow must be > 0 when MaxIssuePerWindow is set")
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("TOTP Skew must be >= 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// valid (empty treated as SHA1)
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	// Step-up
	if c.StepUp.RequirementTTL <= 0 {
		return errors.New("StepUp RequirementTTL must be > 0")
	}
	if c.StepUp.MaxFactors < 1 {
		return errors.New("StepUp MaxFactors must be >= 1")
	}
	if c.StepUp.MinCompletedFactors < 1 || c.StepUp.MinCompletedFactors > c.StepUp.MaxFactors {
		return errors.New("StepUp MinCompletedFactors must be between 1 and MaxFactors")
	}
	if c.StepUp.ExpiredRetention < 0 {
		return errors.New("StepUp ExpiredRetention must be >= 0")
	}
	if c.StepUp.MaxFailedAttempts < 0 {
		return errors.New("StepUp MaxFailedAttempts must be >= 0")
	}
	if c.StepUp.MaxFailedAttempts > 0 && c.StepUp.FailureWindow <= 0 {
		return errors.New("StepUp FailureWindow must be > 0 when MaxFailedAttempts is set")
	}

	// Deletion
	if c.Deletion.GracePeriod <= 0 {
		return errors.New("Deletion GracePeriod must be > 0")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}

	// JWT
	if c.JWT.TTL <= 0 {
		return errors.New("JWT TTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if c.OneTimeCode.Backend != CodeBackendRedis {
			return errors.New("ProductionMode requires the redis OneTimeCode backend")
		}
		if c.OneTimeCode.DefaultTTL > 15*time.Minute {
			return errors.New("ProductionMode requires OneTimeCode DefaultTTL <= 15m")
		}
		if c.StepUp.RequirementTTL > 15*time.Minute {
			return errors.New("ProductionMode requires StepUp RequirementTTL <= 15m")
		}
		if c.JWT.TTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT TTL <= 15m")
		}
		if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if c.TOTP.Skew > 1 {
			return errors.New("ProductionMode requires TOTP Skew <= 1")
		}
	}

	return nil
}
