package ledger

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/points_ledger/internal/logging"
)

// DefaultLimiterIdle is how long an unused per-account limiter is kept.
const DefaultLimiterIdle = 10 * time.Minute

// RateLimiter throttles submissions per account. A nil *RateLimiter allows
// everything.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perSecond submissions per account
// with the given burst. A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int, logger *logging.Logger) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	if logger == nil {
		logger = logging.NewDefault("ratelimit")
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     DefaultLimiterIdle,
		now:      time.Now,
		logger:   logger,
	}
}

// Allow reports whether key may submit now.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl == nil {
		return true
	}
	now := rl.now()

	rl.mu.Lock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)
	rl.mu.Unlock()

	if !allowed {
		rl.logger.LogSecurityEvent(ctx, "rate_limit_exceeded", map[string]interface{}{
			"account": key,
		})
	}
	return allowed
}

// Cleanup removes limiters idle for longer than the idle period and returns
// how many were removed.
func (rl *RateLimiter) Cleanup() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	removed := 0
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked accounts.
func (rl *RateLimiter) Len() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
