package sirene

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces registry requests and holds them back after a 429.
type RateLimiter struct {
	// one request per delay, no burst
	limiter *rate.Limiter

	// pause requested by the last rate-limited response
	pauseUntil time.Time
	mu         sync.Mutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter allows one request per delay. A zero delay disables spacing.
func NewRateLimiter(delay time.Duration) *RateLimiter {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Limit returns the steady-state request rate.
func (r *RateLimiter) Limit() rate.Limit { return r.limiter.Limit() }

// Wait blocks until the next request is allowed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	pauseUntil := r.pauseUntil
	r.mu.Unlock()

	if now := r.now(); now.Before(pauseUntil) {
		if err := r.sleep(ctx, pauseUntil.Sub(now)); err != nil {
			return err
		}
	}

	return r.limiter.Wait(ctx)
}

// Pause holds every request for d from now.
func (r *RateLimiter) Pause(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pauseUntil = r.now().Add(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
