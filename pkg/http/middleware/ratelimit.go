package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// RateLimiter is a per-client token bucket.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   float64
	refillRate float64 // tokens per second
}

// NewRateLimiter creates a limiter allowing capacity bursts refilled at
// refillPerSec.
func NewRateLimiter(capacity, refillPerSec float64) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillPerSec,
	}
}

// Allow consumes one token for key if available.
func (l *RateLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.refillRate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimit rejects requests over the per-client budget with 429.
func RateLimit(l *RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP()) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"message": "rate limit exceeded",
				})
			}
			return next(c)
		}
	}
}
