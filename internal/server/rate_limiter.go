// Package server implements per-connection inbound throttling that protects
// the relay from chatty clients.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter allows bursts of capacity events, refilled evenly over
// interval.
func newRateLimiter(capacity int, interval time.Duration) *rate.Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return rate.NewLimiter(rate.Every(interval/time.Duration(capacity)), capacity)
}
