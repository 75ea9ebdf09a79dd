package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"

	"github.com/alicebob/miniredis/v2"
	"github.com/neosign/neoauth"
	"github.com/neosign/neoauth/channel"
	"github.com/neosign/neoauth/providers/memory"
	"github.com/neosign/neoauth/providers/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// runtime owns the long-lived dependencies of a command. close releases
// them in reverse order.
type runtime struct {
	engine  *neoauth.Engine
	logger  *zap.Logger
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func openRedis(cfg daemonConfig, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if cfg.EmbeddedRedis {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded redis: %w", err)
		}
		logger.Warn("using embedded redis, state is lost on exit", zap.String("addr", mr.Addr()))
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client, func() { _ = client.Close() }, nil
}

func newUserProvider(ctx context.Context, cfg daemonConfig, logger *zap.Logger) (neoauth.UserProvider, func(), error) {
	if cfg.PostgresDSN == "" {
		users := memory.New()
		for _, u := range cfg.Users {
			users.AddUser(neoauth.UserRecord{UserID: u.ID, Email: u.Email})
		}
		logger.Info("using in-memory user provider", zap.Int("seeded", len(cfg.Users)))
		return users, func() {}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	provider := postgres.New(pool)
	if err := provider.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return provider, pool.Close, nil
}

func jwtSecret(cfg daemonConfig, logger *zap.Logger) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	logger.Warn("no jwt secret configured, step-up tokens will not survive a restart")
	return secret, nil
}

// codeSender delivers through the webhook relay when one is configured.
// Otherwise codes are logged: with their bodies in dev mode, as metadata
// only for commands that never deliver.
func codeSender(cfg daemonConfig, logger *zap.Logger) (codeSenders, error) {
	switch {
	case cfg.Delivery.WebhookURL != "":
		client := &http.Client{Timeout: cfg.Delivery.WebhookTimeout}
		sender, err := channel.NewWebhookSender(cfg.Delivery.WebhookURL, cfg.Delivery.WebhookToken, client)
		if err != nil {
			return nil, err
		}
		logger.Info("delivering codes through webhook relay")
		return sender, nil
	case cfg.Delivery.DevLogCodes:
		logger.Warn("dev mode: one-time codes are written to the log and never delivered")
		return channel.NewDevLogSender(logger), nil
	}
	return channel.NewLogSender(logger), nil
}

type codeSenders interface {
	channel.SMSSender
	channel.EmailSender
}

// newRuntime wires the engine with the configured backends.
func newRuntime(ctx context.Context, cfg daemonConfig) (*runtime, error) {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	rt := &runtime{logger: logger, closers: []func(){func() { _ = logger.Sync() }}}

	rdb, closeRedis, err := openRedis(cfg, logger)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeRedis)

	users, closeUsers, err := newUserProvider(ctx, cfg, logger)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeUsers)

	secret, err := jwtSecret(cfg, logger)
	if err != nil {
		rt.close()
		return nil, err
	}

	sender, err := codeSender(cfg, logger)
	if err != nil {
		rt.close()
		return nil, err
	}
	engine, err := neoauth.New().
		WithConfig(cfg.engineConfig(secret)).
		WithRedis(rdb).
		WithLogger(logger).
		WithUserProvider(users).
		WithSMSSender(sender).
		WithEmailSender(sender).
		WithAuditSink(neoauth.NewZapSink(logger.Named("audit"))).
		Build()
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	rt.engine = engine
	rt.closers = append(rt.closers, engine.Close)
	return rt, nil
}
