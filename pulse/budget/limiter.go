// Package budget throttles outbound pull requests so scheduled sources
// stay inside the request rate their upstream APIs allow.
package budget

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/croplink/errors"
)

// Limiter enforces a per-minute request rate with a token bucket. A zero
// rate means unlimited.
type Limiter struct {
	requestsPerMinute int
	burst             int
	lim               *rate.Limiter
	timeNow           func() time.Time // Injectable for testing
}

// NewLimiter creates a rate limiter with real time
func NewLimiter(requestsPerMinute, burst int) *Limiter {
	return NewLimiterWithClock(requestsPerMinute, burst, time.Now)
}

// NewLimiterWithClock creates a rate limiter with injectable clock (for testing)
func NewLimiterWithClock(requestsPerMinute, burst int, timeNow func() time.Time) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60)
	}
	return &Limiter{
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
		lim:               rate.NewLimiter(limit, burst),
		timeNow:           timeNow,
	}
}

// Allow takes a token if one is available now.
// Returns error if rate limit exceeded
func (r *Limiter) Allow() error {
	now := r.timeNow()
	if r.lim.AllowN(now, 1) {
		return nil
	}

	err := errors.Newf("rate limit exceeded: %d requests per minute", r.requestsPerMinute)
	err = errors.WithDetail(err, fmt.Sprintf("Burst: %d", r.burst))
	err = errors.WithDetail(err, fmt.Sprintf("Next token in: %s", r.delay(now)))
	return err
}

// Wait blocks until a token is available or ctx ends.
func (r *Limiter) Wait(ctx context.Context) error {
	for {
		now := r.timeNow()
		res := r.lim.ReserveN(now, 1)
		if !res.OK() {
			return errors.Newf("request exceeds limiter burst %d", r.burst)
		}
		d := res.DelayFrom(now)
		if d == 0 {
			return nil
		}
		// Give the token back and sleep; the clock may be fake
		res.CancelAt(now)

		timer := time.NewTimer(min(d, 100*time.Millisecond))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Limiter) delay(now time.Time) time.Duration {
	tokens := r.lim.TokensAt(now)
	if tokens >= 1 || r.lim.Limit() == rate.Inf {
		return 0
	}
	secs := (1 - tokens) / float64(r.lim.Limit())
	return time.Duration(math.Ceil(secs * float64(time.Second)))
}

// Stats returns the whole tokens available now and the configured rate.
func (r *Limiter) Stats() (available int, requestsPerMinute int) {
	tokens := r.lim.TokensAt(r.timeNow())
	if r.lim.Limit() == rate.Inf {
		return r.burst, r.requestsPerMinute
	}
	return int(math.Max(0, math.Floor(tokens))), r.requestsPerMinute
}
