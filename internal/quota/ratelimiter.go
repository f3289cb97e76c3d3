// Package quota limits how often a client may create links.
package quota

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rpm requests per minute per key, with bursts of up
// to rpm. rpm=0 means unlimited.
func NewRateLimiter(rpm int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Inf,
		now:     time.Now,
	}
	if rpm > 0 {
		rl.limit = rate.Limit(float64(rpm) / 60.0)
		rl.burst = rpm
	}
	return rl
}

// Unlimited reports whether the limiter lets everything through.
func (rl *RateLimiter) Unlimited() bool {
	return rl.limit == rate.Inf
}

func (rl *RateLimiter) get(key string, now time.Time) *bucket {
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// Allow reports whether a request from key may proceed, consuming a token
// if so.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.Unlimited() {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	return rl.get(key, now).limiter.AllowN(now, 1)
}

// RetryAfter returns the whole seconds until key has a token again, or 0.
func (rl *RateLimiter) RetryAfter(key string) int {
	if rl.Unlimited() {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		return 0
	}
	now := rl.now()
	tokens := b.limiter.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	seconds := (1 - tokens) / float64(rl.limit)
	return int(math.Ceil(seconds))
}

// Cleanup drops buckets not used within maxIdle and returns how many remain.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
	return len(rl.buckets)
}
