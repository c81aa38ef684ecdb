// Package ratelimiter throttles transfer bandwidth using a token bucket.
// Workers apply it per command when the job requests a speed limit, so a
// background copy does not starve interactive traffic.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter caps sustained throughput in bytes per second. One token is one
// byte; the burst equals one second of traffic so chunked writes do not
// stall on bucket granularity.
//
// All methods are safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a limiter for the given sustained rate. A rate of zero means
// unlimited.
func New(bytesPerSecond int) *Limiter {
	if bytesPerSecond <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)}
}

// WaitN blocks until n bytes may be transferred, or the context ends.
// Chunks larger than the burst are split so they remain admissible.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	burst := l.limiter.Burst()
	if l.limiter.Limit() == rate.Inf {
		return ctx.Err()
	}
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := l.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// Allow reports whether n bytes may be transferred immediately.
func (l *Limiter) Allow(n int) bool {
	return l.limiter.AllowN(time.Now(), n)
}

// SetRate changes the sustained rate. Zero means unlimited.
func (l *Limiter) SetRate(bytesPerSecond int) {
	if bytesPerSecond <= 0 {
		l.limiter.SetLimit(rate.Inf)
		l.limiter.SetBurst(0)
		return
	}
	l.limiter.SetLimit(rate.Limit(bytesPerSecond))
	l.limiter.SetBurst(bytesPerSecond)
}
