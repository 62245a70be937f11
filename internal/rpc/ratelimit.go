package rpc

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is the pluggable policy spec §4.11 calls out as "external": the
// Router only needs to know whether a caller may proceed for a given
// security Level, not how quotas are tracked or stored.
type Limiter interface {
	Allow(identity string, level Level) bool
}

// rateConfig is the token-bucket shape (events/sec, burst) per Level.
// Public procedures are never limited.
var rateConfig = map[Level]struct {
	rps   rate.Limit
	burst int
}{
	Moderate: {rps: 5, burst: 10},
	Strict:   {rps: 1, burst: 3},
}

// tokenBucketLimiter keys one golang.org/x/time/rate.Limiter per
// (identity, level) pair, created lazily on first use.
type tokenBucketLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewTokenBucketLimiter builds the default Limiter implementation.
func NewTokenBucketLimiter() Limiter {
	return &tokenBucketLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *tokenBucketLimiter) Allow(identity string, level Level) bool {
	cfg, limited := rateConfig[level]
	if !limited {
		return true
	}

	key := string(level) + ":" + identity
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(cfg.rps, cfg.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
