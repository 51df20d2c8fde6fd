package errorhandler

import (
	"math/rand"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// RetryPolicy controls how failed operations are retried.  The zero value is
// not usable; construct with DefaultRetryPolicy or fill every field.
type RetryPolicy struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	ExponentialBackoff bool
}

// DefaultRetryPolicy returns the global default: three attempts with
// exponential backoff between one and thirty seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        DefaultMaxAttempts,
		BaseDelay:          DefaultBaseDelay,
		MaxDelay:           DefaultMaxDelay,
		ExponentialBackoff: true,
	}
}

// ShouldRetry tests whether attempt n (zero-based) of the operation that
// produced err should proceed.  Authentication errors and critical errors
// are never retried.
func (p RetryPolicy) ShouldRetry(err *EnhancedError, attempt int) bool {
	return attempt < p.MaxAttempts &&
		err.Retryable &&
		err.Category != CategoryAuthentication &&
		err.Severity != SeverityCritical
}

// RetryDelay computes the delay before attempt n (zero-based).  With
// exponential backoff the delay is min(base * 2^n, max) scaled by a uniform
// jitter in [0.75, 1.25]; otherwise it is the base delay.  An error carrying
// a suggested recovery delay overrides the computed delay, but never past
// the policy maximum.
func (p RetryPolicy) RetryDelay(err *EnhancedError, attempt int) time.Duration {
	if err != nil && err.SuggestedDelay > 0 {
		if p.MaxDelay > 0 && err.SuggestedDelay > p.MaxDelay {
			return p.MaxDelay
		}

		return err.SuggestedDelay
	}

	if !p.ExponentialBackoff {
		return p.BaseDelay
	}

	delay := p.BaseDelay << uint(attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}

	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}
