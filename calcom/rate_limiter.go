package calcom

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces outbound calls per user.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perMinute calls per user with a burst of a tenth of
// that. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	l := &RateLimiter{limiters: make(map[string]*rate.Limiter)}
	if perMinute <= 0 {
		l.limit = rate.Inf
		l.burst = 1
		return l
	}
	l.limit = rate.Every(time.Minute / time.Duration(perMinute))
	l.burst = perMinute / 10
	if l.burst < 1 {
		l.burst = 1
	}
	return l
}

func (l *RateLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// Wait blocks until key may make a call or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Allow reports whether key may make a call now, without waiting.
func (l *RateLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Reset drops all per-user state.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
}
