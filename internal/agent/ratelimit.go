package agent

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles model endpoint round trips. A nil *RateLimiter never
// waits.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter returns nil (no limit) when ratePerMinute is not positive.
// The burst is at least one request.
func NewRateLimiter(burst int, ratePerMinute float64) *RateLimiter {
	if ratePerMinute <= 0 {
		return nil
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(ratePerMinute/60), max(burst, 1))}
}

// Wait blocks until a request may be sent. It fails early when ctx ends or
// when its deadline would pass before a slot frees up.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	return rl.lim.Wait(ctx)
}
