package neoauth

import (
	"errors"
	"time"

	"github.com/neosign/neoauth/internal/audit"
	"github.com/neosign/neoauth/internal/rate"
	"github.com/neosign/neoauth/internal/stores"
	"github.com/neosign/neoauth/jwt"
	"github.com/neosign/neoauth/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *zap.Logger
	now    func() time.Time

	userProvider UserProvider
	smsSender    SMSSender
	emailSender  EmailSender
	hardware     HardwareVerifier
	auditSink    AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client. It backs step-up sessions, application
// sessions, rate limits and, with the redis backend, one-time codes. It is
// required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithUserProvider sets the user store. It is required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

func (b *Builder) WithSMSSender(s SMSSender) *Builder {
	b.smsSender = s
	return b
}

func (b *Builder) WithEmailSender(s EmailSender) *Builder {
	b.emailSender = s
	return b
}

// WithHardwareVerifier enables the hardware factor. Without it hardware
// requirements are rejected with ErrFactorUnsupported.
func (b *Builder) WithHardwareVerifier(v HardwareVerifier) *Builder {
	b.hardware = v
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if b.smsSender == nil {
		return nil, errors.New("sms sender required")
	}
	if b.emailSender == nil {
		return nil, errors.New("email sender required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:       cloneConfig(cfg),
		logger:       logger.Named("neoauth"),
		now:          b.now,
		stepUpStore:  stores.NewStepUpStore(b.redis, cfg.StepUp.RedisPrefix),
		sessionStore: session.NewStore(b.redis, cfg.Session.RedisPrefix).WithClock(b.now),
		userProvider: b.userProvider,
		smsSender:    b.smsSender,
		emailSender:  b.emailSender,
		hardware:     b.hardware,
	}

	switch cfg.OneTimeCode.Backend {
	case CodeBackendMemory:
		engine.codeStore = stores.NewMemoryCodeStore()
	default:
		engine.codeStore = stores.NewRedisCodeStore(b.redis, cfg.OneTimeCode.RedisPrefix, cfg.OneTimeCode.ExpiredRetention)
	}

	engine.limiter = rate.New(b.redis, rate.Config{
		MaxVerifyFailures: cfg.StepUp.MaxFailedAttempts,
		VerifyWindow:      cfg.StepUp.FailureWindow,
		MaxIssuePerWindow: cfg.OneTimeCode.MaxIssuePerWindow,
		IssueWindow:       cfg.OneTimeCode.IssueWindow,
	})
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = newTOTPManager(cfg.TOTP)

	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.JWT.TTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           b.now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm
	engine.flows = engine.buildFlowDeps()

	if cfg.OneTimeCode.SweepInterval > 0 {
		engine.startCodeSweep(cfg.OneTimeCode.SweepInterval)
	}

	b.built = true

	return engine, nil
}
