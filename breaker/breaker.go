// Package breaker implements the per-connection circuit breaker that gates
// recovery attempts on failing connections.
package breaker

import (
	"sync"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
)

// State is the current disposition of a Breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 3
	DefaultRecoveryTimeout  = 30 * time.Second
)

// Counts is an atomic snapshot of a Breaker's counters.
type Counts struct {
	Failures  int
	Successes int
}

// Option is a configuration option for a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the number of consecutive failures that trip the breaker.
func WithFailureThreshold(threshold int) Option {
	return func(b *Breaker) {
		if threshold > 0 {
			b.failureThreshold = threshold
		}
	}
}

// WithSuccessThreshold sets the number of successes in HALF_OPEN required to close the breaker.
func WithSuccessThreshold(threshold int) Option {
	return func(b *Breaker) {
		if threshold > 0 {
			b.successThreshold = threshold
		}
	}
}

// WithRecoveryTimeout sets how long an OPEN breaker rejects attempts before
// allowing a probe.
func WithRecoveryTimeout(timeout time.Duration) Option {
	return func(b *Breaker) {
		if timeout > 0 {
			b.recoveryTimeout = timeout
		}
	}
}

// WithStateGauge supplies a gauge that tracks the breaker state as its
// integer value.  A nil gauge discards all metrics.
func WithStateGauge(gauge metrics.Gauge) Option {
	return func(b *Breaker) {
		if gauge != nil {
			b.stateGauge = gauge
		}
	}
}

// WithNow replaces the breaker's clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// Breaker is a per-connection failure gate.  All transitions happen under
// the breaker's own mutex; snapshots are consistent.
type Breaker struct {
	lock sync.Mutex

	state           State
	failures        int
	successes       int
	lastFailureTime time.Time

	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration

	stateGauge metrics.Gauge
	now        func() time.Time
}

// New constructs a Breaker in the CLOSED state.
func New(options ...Option) *Breaker {
	b := &Breaker{
		state:            Closed,
		failureThreshold: DefaultFailureThreshold,
		successThreshold: DefaultSuccessThreshold,
		recoveryTimeout:  DefaultRecoveryTimeout,
		stateGauge:       discard.NewGauge(),
		now:              time.Now,
	}

	for _, o := range options {
		o(b)
	}

	b.stateGauge.Set(float64(b.state))
	return b
}

// State returns the current state, accounting for recovery timeout expiry.
func (b *Breaker) State() State {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.state
}

// Counts returns a snapshot of the failure and success counters.
func (b *Breaker) Counts() Counts {
	b.lock.Lock()
	defer b.lock.Unlock()
	return Counts{Failures: b.failures, Successes: b.successes}
}

// CanAttempt tests whether a connection attempt is currently permitted.
// An OPEN breaker begins permitting attempts once the recovery timeout has
// elapsed since the last failure.
func (b *Breaker) CanAttempt() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	default:
		return b.now().Sub(b.lastFailureTime) >= b.recoveryTimeout
	}
}

// RecordFailure notes a failed attempt.  In CLOSED, reaching the failure
// threshold trips the breaker OPEN.  In HALF_OPEN, any failure re-opens the
// breaker and zeroes the success counter.
func (b *Breaker) RecordFailure() {
	b.lock.Lock()
	defer b.lock.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.transition(Open)
			b.lastFailureTime = b.now()
		}

	case HalfOpen:
		b.successes = 0
		b.transition(Open)
		b.lastFailureTime = b.now()

	case Open:
		b.lastFailureTime = b.now()
	}
}

// RecordSuccess notes a successful attempt.  An OPEN breaker whose recovery
// timeout has elapsed moves to HALF_OPEN; a HALF_OPEN breaker closes once
// the success threshold is reached, zeroing both counters.
func (b *Breaker) RecordSuccess() {
	b.lock.Lock()
	defer b.lock.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailureTime) >= b.recoveryTimeout {
			b.transition(HalfOpen)
			b.successes = 1
		}

	case HalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.transition(Closed)
			b.failures = 0
			b.successes = 0
		}

	case Closed:
		b.failures = 0
	}
}

// Reset forces the breaker CLOSED and zeroes both counters.
func (b *Breaker) Reset() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.transition(Closed)
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) transition(next State) {
	b.state = next
	b.stateGauge.Set(float64(next))
}
