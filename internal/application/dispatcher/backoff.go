package dispatcher

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// BackoffPolicy schedules redelivery of failed records: exponential growth
// from Base, +/- JitterPercent, capped at Max. A record that has failed
// MaxAttempts times is dead-lettered.
type BackoffPolicy struct {
	Base          time.Duration
	Max           time.Duration
	JitterPercent uint64
	MaxAttempts   int
}

// DefaultBackoffPolicy returns the policy used when none is configured
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:          time.Second,
		Max:           10 * time.Minute,
		JitterPercent: 20,
		MaxAttempts:   8,
	}
}

func (p BackoffPolicy) normalized() BackoffPolicy {
	d := DefaultBackoffPolicy()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.JitterPercent > 100 {
		p.JitterPercent = 100
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// backoff builds the go-retry chain. The retry budget is MaxAttempts-1
// because the first delivery is not a retry.
func (p BackoffPolicy) backoff() retry.Backoff {
	p = p.normalized()
	b := retry.NewExponential(p.Base)
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	b = retry.WithCappedDuration(p.Max, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// Next returns the delay before the next delivery of a record that has
// failed attempts times, or stop=true when the budget is spent.
func (p BackoffPolicy) Next(attempts int) (delay time.Duration, stop bool) {
	if attempts < 1 {
		attempts = 1
	}
	b := p.backoff()
	for i := 0; i < attempts; i++ {
		delay, stop = b.Next()
		if stop {
			return 0, true
		}
	}
	return delay, false
}
