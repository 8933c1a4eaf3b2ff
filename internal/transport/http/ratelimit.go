package http

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter returns a token bucket admitting limit inbound frames per
// minute with a burst of limit. Zero or less disables limiting.
func newRateLimiter(limit int) *rate.Limiter {
	if limit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit)), limit)
}

// allowFrame reports whether one more frame fits the budget. A nil limiter
// admits everything.
func allowFrame(l *rate.Limiter) bool {
	return l == nil || l.Allow()
}
