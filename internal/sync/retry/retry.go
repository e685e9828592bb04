// Package retry computes backoff schedules and dead-letter decisions for
// failed sync operations.
//
// The policy is pure: it reads nothing but its own configuration and the
// record's retry count, so the engine can apply it without holding locks
// and tests can verify the schedule exactly.
package retry

import (
	"math/rand"
	"time"
)

// Policy configures the retry schedule.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// JitterFraction is the maximum fraction of the computed delay
	// added as random jitter. Jitter spreads retries from many devices
	// that failed at the same moment (e.g. a shared outage) so they do
	// not all hammer the remote again in the same instant.
	JitterFraction float64

	// DeadLetterThreshold is the retry count at which a record stops
	// being dispatched automatically.
	DeadLetterThreshold int

	// rand returns a uniform value in [0,1); overridable for tests.
	rand func() float64
}

// DefaultPolicy returns the standard schedule: 2s base doubling up to
// 5m, 25% jitter, dead-letter after 5 attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:           2 * time.Second,
		MaxDelay:            5 * time.Minute,
		JitterFraction:      0.25,
		DeadLetterThreshold: 5,
	}
}

// Delay returns the wait before attempt retryCount+1:
// min(base * 2^retryCount, max) plus jitter in [0, JitterFraction) of
// that value. The result is monotonically non-decreasing in retryCount
// up to the cap.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	d := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}

	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	jitter := time.Duration(float64(d) * p.JitterFraction * r())
	return d + jitter
}

// NextAttempt returns the earliest instant the record may be dispatched
// again.
func (p Policy) NextAttempt(now time.Time, retryCount int) time.Time {
	return now.Add(p.Delay(retryCount))
}

// ShouldDeadLetter reports whether a record with the given retry count
// has exhausted its budget and must be quarantined.
func (p Policy) ShouldDeadLetter(retryCount int) bool {
	return retryCount >= p.DeadLetterThreshold
}
