package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// lowWatermark is the remaining-call count below which Wait sleeps until reset
const lowWatermark = 10

// RateLimiter manages GitHub API rate limiting
type RateLimiter interface {
	Wait(ctx context.Context) error
	CheckLimit() (remaining int, resetTime time.Time)
	UpdateLimit(remaining int, resetTime time.Time)
}

// githubRateLimiter implements RateLimiter for GitHub API
type githubRateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	minDelay  time.Duration
	lastCall  time.Time
	// maxWait caps how long Wait sleeps for a reset
	maxWait time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(minDelay, maxWait time.Duration) RateLimiter {
	return &githubRateLimiter{
		remaining: 5000, // GitHub API default limit
		resetTime: time.Now().Add(time.Hour),
		minDelay:  minDelay,
		maxWait:   maxWait,
	}
}

// Wait waits until it's safe to make another API call. When the quota is
// exhausted and the reset is further away than maxWait, it returns at once
// and lets the upstream answer with its rate-limit error.
func (r *githubRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remaining <= lowWatermark {
		waitDuration := time.Until(r.resetTime)
		if waitDuration > 0 && waitDuration <= r.maxWait {
			slog.Info("Rate limit low, waiting for reset", "remaining", r.remaining, "wait", waitDuration.Round(time.Second))
			if err := r.sleep(ctx, waitDuration); err != nil {
				return err
			}
			r.remaining = 5000
			r.resetTime = time.Now().Add(time.Hour)
		} else if waitDuration <= 0 {
			r.remaining = 5000
			r.resetTime = time.Now().Add(time.Hour)
		}
	}

	// Ensure minimum delay between requests
	if elapsed := time.Since(r.lastCall); elapsed < r.minDelay {
		if err := r.sleep(ctx, r.minDelay-elapsed); err != nil {
			return err
		}
	}

	r.lastCall = time.Now()
	return nil
}

// sleep releases the lock while waiting; callers hold r.mu
func (r *githubRateLimiter) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Unlock()
	defer r.mu.Lock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CheckLimit returns the current rate limit status
func (r *githubRateLimiter) CheckLimit() (remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.resetTime
}

// UpdateLimit updates the rate limit from API response headers
func (r *githubRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}
