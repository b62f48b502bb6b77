package compute

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy tunes the derive retry loop.
type RetryPolicy struct {
	// MaxAttempts bounds the number of authority calls per derive.
	MaxAttempts int
	// InProgressInitial is the first wait after AlreadyInProgress; each
	// further one adds the same amount, up to InProgressMax.
	InProgressInitial time.Duration
	InProgressMax     time.Duration
	// BusyInitial is the first wait after TooManyRequests; it doubles up
	// to BusyMax.
	BusyInitial time.Duration
	BusyMax     time.Duration
}

// DefaultRetryPolicy is 20 attempts, 200ms..2s linear while another caller
// computes the key and exponential up to 5s under admission pressure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       20,
		InProgressInitial: 200 * time.Millisecond,
		InProgressMax:     2 * time.Second,
		BusyInitial:       200 * time.Millisecond,
		BusyMax:           5 * time.Second,
	}
}

// linearBackOff grows by a fixed step up to a cap.
type linearBackOff struct {
	step    time.Duration
	max     time.Duration
	current time.Duration
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.current += b.step
	if b.current > b.max {
		b.current = b.max
	}

	return b.current
}

func (b *linearBackOff) Reset() { b.current = 0 }

// contentionBackOff picks the schedule matching the last authority answer.
type contentionBackOff struct {
	last       Status
	inProgress *linearBackOff
	busy       *backoff.ExponentialBackOff
}

func newContentionBackOff(p RetryPolicy) *contentionBackOff {
	busy := backoff.NewExponentialBackOff()
	busy.InitialInterval = p.BusyInitial
	busy.MaxInterval = p.BusyMax
	busy.Multiplier = 2
	busy.RandomizationFactor = 0
	busy.MaxElapsedTime = 0
	busy.Reset()

	return &contentionBackOff{
		inProgress: &linearBackOff{step: p.InProgressInitial, max: p.InProgressMax},
		busy:       busy,
	}
}

// NextBackOff advances only the schedule of the last answer; the other one
// keeps its position.
func (b *contentionBackOff) NextBackOff() time.Duration {
	if b.last == StatusTooManyRequests {
		return b.busy.NextBackOff()
	}

	return b.inProgress.NextBackOff()
}

func (b *contentionBackOff) Reset() {
	b.last = ""
	b.inProgress.Reset()
	b.busy.Reset()
}
