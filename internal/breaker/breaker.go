// Package breaker implements the per-provider circuit breaker gating every
// outbound completion call. Each provider owns exactly one Breaker; its
// state is shared across all in-flight requests targeting that provider and
// is the only mutable state those requests share.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker position in its state machine.
type State int

const (
	// Closed passes all requests through.
	Closed State = iota
	// Open short-circuits requests without a network call.
	Open
	// HalfOpen admits a single probe request to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes one breaker instance.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips
	// Closed to Open.
	FailureThreshold int
	// Cooldown is the initial interval an Open breaker waits before
	// admitting a probe.
	Cooldown time.Duration
	// MaxCooldown caps cooldown growth across repeated Open cycles.
	MaxCooldown time.Duration
	// CooldownGrowth multiplies the cooldown each time a probe fails.
	CooldownGrowth float64
}

// Option customises breaker construction.
type Option func(*Breaker)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithOnStateChange registers a hook invoked (outside the lock is not
// guaranteed; keep it fast) on every state transition.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker is a per-provider health gate. All methods are safe for
// concurrent use.
type Breaker struct {
	name string
	cfg  Config

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	cooldown      time.Duration
	probeInFlight bool

	now      func() time.Time
	onChange func(name string, from, to State)
}

// New constructs a closed breaker for the named provider.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:     name,
		cfg:      cfg,
		state:    Closed,
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the owning provider's name.
func (b *Breaker) Name() string {
	return b.name
}

// Allow reports whether a request may proceed against the provider.
// An Open breaker whose cooldown has elapsed transitions to HalfOpen and
// admits the caller as the probe. While a probe is in flight, every other
// caller is short-circuited as if the breaker were still Open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.transition(HalfOpen)
			b.probeInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return false
	}
}

// ReportSuccess records a successful call. A successful probe closes the
// breaker; in Closed state the consecutive-failure counter resets.
func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.probeInFlight = false
		b.cooldown = b.cfg.Cooldown
		b.transition(Closed)
	case Closed:
		b.failures = 0
	}
}

// ReportFailure records a failed call. A fatal failure (authentication or
// permanent configuration error) trips the breaker immediately: there is no
// value in probing further. A failed probe reopens the breaker and grows
// the cooldown multiplicatively up to the configured cap.
func (b *Breaker) ReportFailure(fatal bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if fatal || b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.transition(Open)
		}
	case HalfOpen:
		b.probeInFlight = false
		b.failures++
		b.openedAt = b.now()
		grown := time.Duration(float64(b.cooldown) * b.cfg.CooldownGrowth)
		if grown > b.cfg.MaxCooldown {
			grown = b.cfg.MaxCooldown
		}
		b.cooldown = grown
		b.transition(Open)
	case Open:
		b.failures++
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive-failure counter.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// transition moves to the target state, resetting counters on entry into
// Closed. Caller must hold the lock.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == Closed {
		b.failures = 0
		b.openedAt = time.Time{}
	}
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
