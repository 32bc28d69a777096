// Package retry implements the bounded, jittered retry policy applied to
// each provider attempt.
package retry

import (
	"context"
	"math/rand"
	"time"

	"phoenixgate/internal/provider"
)

// Policy decides whether a failed attempt is retried and how long to wait
// before the next one. The policy itself is stateless: both decisions are
// pure functions of the attempt index and error kind (plus jitter).
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      func() float64
}

// Option customises policy construction.
type Option func(*Policy)

// WithJitter injects the jitter source, for tests. The function must
// return values in [0,1).
func WithJitter(fn func() float64) Option {
	return func(p *Policy) { p.jitter = fn }
}

// NewPolicy constructs a policy allowing maxAttempts tries per provider per
// request with exponential, jittered backoff between them.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, opts ...Option) *Policy {
	p := &Policy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		jitter:      rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxAttempts returns the per-provider attempt cap.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether the attempt at the given zero-based index may
// be followed by another against the same provider. Only transient kinds
// (timeout, rate-limited, transient network) are retried; authentication
// and permanent failures propagate immediately.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if attempt+1 >= p.maxAttempts {
		return false
	}
	return provider.KindOf(err).Retryable()
}

// Delay computes the backoff before the attempt at the given zero-based
// index: base * 2^attempt scaled by a random factor in [0.5, 1.5), capped
// at the maximum delay. The jitter desynchronises retry storms across
// concurrent requests.
func (p *Policy) Delay(attempt int) time.Duration {
	backoff := p.baseDelay << uint(attempt)
	if backoff > p.maxDelay || backoff <= 0 {
		backoff = p.maxDelay
	}
	scaled := time.Duration(float64(backoff) * (0.5 + p.jitter()))
	if scaled > p.maxDelay {
		scaled = p.maxDelay
	}
	return scaled
}

// Wait sleeps for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
