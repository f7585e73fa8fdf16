package federation

import (
	"math/rand/v2"
	"time"
)

// maxBackoffExponent caps the doubling so sustained failure cannot overflow.
const maxBackoffExponent = 16

// Backoff computes jittered exponential delays:
//
//	min(Initial * 2^min(attempt, 16), Max) + uniform[0, min(Initial, Max))
//
// with a floor of one millisecond.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	// jitter returns a value in [0, n); nil means math/rand/v2.
	jitter func(n int64) int64
}

// NewBackoff returns a Backoff with the given bounds.
func NewBackoff(initial, maxDelay time.Duration) Backoff {
	return Backoff{Initial: initial, Max: maxDelay}
}

// Compute returns the delay for the given zero-based attempt.
func (b Backoff) Compute(attempt uint32) time.Duration {
	d := b.base(attempt)
	if span := min(b.Initial, b.Max); span > 0 {
		jitter := b.jitter
		if jitter == nil {
			jitter = rand.Int64N
		}
		d += time.Duration(jitter(int64(span)))
	}
	return max(d, time.Millisecond)
}

// base is the delay before jitter; non-decreasing in attempt.
func (b Backoff) base(attempt uint32) time.Duration {
	if b.Initial <= 0 || b.Max <= 0 {
		return 0
	}
	exp := min(attempt, maxBackoffExponent)
	if b.Initial > b.Max>>exp {
		return b.Max
	}
	return min(b.Initial<<exp, b.Max)
}
