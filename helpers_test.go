package neoauth_test

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/neosign/neoauth"
	"github.com/neosign/neoauth/channel"
	"github.com/neosign/neoauth/providers/memory"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	engine   *neoauth.Engine
	users    *memory.Provider
	outbox   *channel.Outbox
	clock    *testClock
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	auditLog *neoauth.ChannelSink
}

func testConfig(t *testing.T) neoauth.Config {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	cfg := neoauth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = key
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*neoauth.Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		users:    memory.New(),
		outbox:   channel.NewOutbox(),
		clock:    newTestClock(),
		mr:       mr,
		rdb:      rdb,
		auditLog: neoauth.NewChannelSink(1024),
	}

	engine, err := neoauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(env.users).
		WithSMSSender(env.outbox).
		WithEmailSender(env.outbox).
		WithAuditSink(env.auditLog).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

func (env *testEnv) addUser(userID, email string) {
	env.users.AddUser(neoauth.UserRecord{UserID: userID, Email: email})
}

func (env *testEnv) enrollEmail(t *testing.T, userID, email string) {
	t.Helper()
	ctx := context.Background()
	if err := env.engine.RequestEmailTwoFactor(ctx, userID); err != nil {
		t.Fatalf("RequestEmailTwoFactor failed: %v", err)
	}
	if err := env.engine.ConfirmEmailTwoFactor(ctx, userID, env.lastCode(t, email)); err != nil {
		t.Fatalf("ConfirmEmailTwoFactor failed: %v", err)
	}
}

func (env *testEnv) enrollPhone(t *testing.T, userID, phone string) {
	t.Helper()
	ctx := context.Background()
	if err := env.engine.RequestPhoneTwoFactor(ctx, userID, phone); err != nil {
		t.Fatalf("RequestPhoneTwoFactor failed: %v", err)
	}
	if err := env.engine.ConfirmPhoneTwoFactor(ctx, userID, phone, env.lastCode(t, phone)); err != nil {
		t.Fatalf("ConfirmPhoneTwoFactor failed: %v", err)
	}
}

// enrollAuthenticator enables the authenticator factor and moves the clock
// to the next time step so the enrollment code cannot be replayed.
func (env *testEnv) enrollAuthenticator(t *testing.T, userID string) string {
	t.Helper()
	ctx := context.Background()
	setup, err := env.engine.BeginAuthenticatorSetup(ctx, userID)
	if err != nil {
		t.Fatalf("BeginAuthenticatorSetup failed: %v", err)
	}
	if err := env.engine.ConfirmAuthenticatorSetup(ctx, userID, env.totpCode(t, setup.SecretBase32)); err != nil {
		t.Fatalf("ConfirmAuthenticatorSetup failed: %v", err)
	}
	env.clock.Advance(30 * time.Second)
	return setup.SecretBase32
}

func (env *testEnv) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, env.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

// flushAudit closes the engine so the dispatcher drains, then returns every
// event the sink received.
func (env *testEnv) flushAudit() []neoauth.AuditEvent {
	env.engine.Close()
	var out []neoauth.AuditEvent
	for {
		select {
		case ev := <-env.auditLog.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countAudit(events []neoauth.AuditEvent, eventType string, success bool) int {
	n := 0
	for _, ev := range events {
		if ev.EventType == eventType && ev.Success == success {
			n++
		}
	}
	return n
}

// codesTo returns the codes delivered to destination in send order.
func (env *testEnv) codesTo(destination string) []string {
	var out []string
	for _, msg := range env.outbox.Messages() {
		if msg.To == destination {
			out = append(out, msg.Code())
		}
	}
	return out
}

func (env *testEnv) lastCode(t *testing.T, destination string) string {
	t.Helper()
	msg, ok := env.outbox.Last(destination)
	if !ok {
		t.Fatalf("no message delivered to %s", destination)
	}
	code := msg.Code()
	if code == "" {
		t.Fatalf("message to %s carries no code", destination)
	}
	return code
}
