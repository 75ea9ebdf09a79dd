package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters. A MaxVerifyFailures of zero
// disables the limiter.
type Config struct {
	MaxVerifyFailures int
	VerifyWindow      time.Duration
	MaxIssuePerWindow int
	IssueWindow       time.Duration
}

// Limiter counts failed code verifications and code issuance per subject
// using Redis fixed-window counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Enabled reports whether verify failures are limited at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.redis != nil && l.config.MaxVerifyFailures > 0
}

// CheckVerify returns ErrRateLimited once the subject has used its failure
// budget for the current window.
func (l *Limiter) CheckVerify(ctx context.Context, subject string) error {
	if !l.Enabled() {
		return nil
	}
	return l.checkCounter(ctx, verifyKey(subject), l.config.MaxVerifyFailures)
}

// RecordVerifyFailure counts one failed verification. The returned error is
// ErrRateLimited when this failure exhausted the budget.
func (l *Limiter) RecordVerifyFailure(ctx context.Context, subject string) error {
	if !l.Enabled() {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, verifyKey(subject), l.config.VerifyWindow)
	if err != nil {
		return err
	}
	if count >= int64(l.config.MaxVerifyFailures) {
		return ErrRateLimited
	}
	return nil
}

// ResetVerify clears the failure counter after a successful verification.
func (l *Limiter) ResetVerify(ctx context.Context, subject string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, verifyKey(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckIssue counts one code issuance for the subject and rejects it when
// the issuance budget is exhausted. Disabled when MaxIssuePerWindow is zero.
func (l *Limiter) CheckIssue(ctx context.Context, subject string) error {
	if l == nil || l.redis == nil || l.config.MaxIssuePerWindow <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, issueKey(subject), l.config.IssueWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxIssuePerWindow) {
		return ErrRateLimited
	}
	return nil
}

// VerifyFailures returns the current failure counter for a subject.
func (l *Limiter) VerifyFailures(ctx context.Context, subject string) (int, error) {
	if l == nil || l.redis == nil {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, verifyKey(subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func verifyKey(subject string) string {
	return "rvf:" + subject
}

func issueKey(subject string) string {
	return "ris:" + subject
}
