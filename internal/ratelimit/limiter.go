// Package ratelimit provides a token bucket used to throttle progress
// reporting during long runs.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket with the configured rate and burst.
// It is safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	tokens    float64
	lastCheck time.Time
	rate      float64          // tokens per second
	burst     int              // max burst size (also initial token count)
	nowFunc   func() time.Time // injectable clock for testing
}

// NewLimiter creates a limiter with the given rate (tokens/sec) and burst size.
// The burst size also serves as the initial number of tokens available.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		tokens:    float64(burst),
		lastCheck: time.Now(),
		rate:      rate,
		burst:     burst,
		nowFunc:   time.Now,
	}
}

// Every returns a limiter that allows one event per interval.
func Every(interval time.Duration) *Limiter {
	return NewLimiter(1/interval.Seconds(), 1)
}

// Allow reports whether an event may happen now, consuming a token if so.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	if elapsed := now.Sub(l.lastCheck).Seconds(); elapsed > 0 {
		l.tokens += l.rate * elapsed
		if l.tokens > float64(l.burst) {
			l.tokens = float64(l.burst)
		}
		l.lastCheck = now
	}

	if l.tokens < 1.0 {
		return false
	}
	l.tokens--
	return true
}
