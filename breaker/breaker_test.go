package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixedClock returns a controllable now function.
func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	return func() time.Time { return current },
		func(d time.Duration) { current = current.Add(d) }
}

func TestDefaults(t *testing.T) {
	assert := assert.New(t)
	b := New()

	assert.Equal(Closed, b.State())
	assert.True(b.CanAttempt())
	assert.Equal(Counts{}, b.Counts())
}

func TestTripsAfterThreshold(t *testing.T) {
	assert := assert.New(t)
	b := New(WithFailureThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(Closed, b.State())
	assert.True(b.CanAttempt())

	b.RecordFailure()
	assert.Equal(Open, b.State())
	assert.False(b.CanAttempt())
}

func TestSuccessResetsClosedFailures(t *testing.T) {
	assert := assert.New(t)
	b := New(WithFailureThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(Counts{}, b.Counts())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(Closed, b.State())
}

func TestRecoveryProbe(t *testing.T) {
	assert := assert.New(t)
	now, advance := fixedClock(time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC))
	b := New(
		WithFailureThreshold(1),
		WithSuccessThreshold(2),
		WithRecoveryTimeout(30*time.Second),
		WithNow(now),
	)

	b.RecordFailure()
	assert.Equal(Open, b.State())
	assert.False(b.CanAttempt())

	advance(29 * time.Second)
	assert.False(b.CanAttempt())

	advance(time.Second)
	assert.True(b.CanAttempt())

	b.RecordSuccess()
	assert.Equal(HalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(Closed, b.State())
	assert.Equal(Counts{}, b.Counts())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	assert := assert.New(t)
	now, advance := fixedClock(time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC))
	b := New(
		WithFailureThreshold(1),
		WithRecoveryTimeout(time.Minute),
		WithNow(now),
	)

	b.RecordFailure()
	advance(time.Minute)
	b.RecordSuccess()
	assert.Equal(HalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(Open, b.State())
	assert.False(b.CanAttempt())
	assert.Zero(b.Counts().Successes)
}

func TestOpenFailureExtendsTimeout(t *testing.T) {
	assert := assert.New(t)
	now, advance := fixedClock(time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC))
	b := New(
		WithFailureThreshold(1),
		WithRecoveryTimeout(time.Minute),
		WithNow(now),
	)

	b.RecordFailure()
	advance(45 * time.Second)
	b.RecordFailure()

	advance(30 * time.Second)
	assert.False(b.CanAttempt())

	advance(30 * time.Second)
	assert.True(b.CanAttempt())
}

func TestReset(t *testing.T) {
	assert := assert.New(t)
	b := New(WithFailureThreshold(1))

	b.RecordFailure()
	assert.Equal(Open, b.State())

	b.Reset()
	assert.Equal(Closed, b.State())
	assert.True(b.CanAttempt())
	assert.Equal(Counts{}, b.Counts())
}

func TestStateString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("CLOSED", Closed.String())
	assert.Equal("OPEN", Open.String())
	assert.Equal("HALF_OPEN", HalfOpen.String())
	assert.Equal("UNKNOWN", State(9).String())
}
