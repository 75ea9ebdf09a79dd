package rate

import "errors"

var (
	// ErrRateLimited is returned when a counter is over its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures from counter operations.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
