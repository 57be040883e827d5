package schedule

import (
	"math/rand/v2"
	"time"
)

// Backoff is the exponential retry policy for transient failures:
//
//	delay(n) = min(Base * 2^n, Max) * (1 - Jitter*r), r in [0, 1)
//
// With Jitter 0 the curve is deterministic. Jitter only ever shortens the
// delay, so Max remains a hard ceiling.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction in [0, 1]

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.Float64.
	Rand func() float64
}

// DefaultBackoff is 1s doubling up to 5 minutes without jitter.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 5 * time.Minute}
}

// Delay returns the wait after a failure, where retry is the entry's retry
// count before that failure. Delay(0) is Base.
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	limit := b.Max
	if limit <= 0 {
		limit = 5 * time.Minute
	}

	d := base
	for i := 0; i < retry; i++ {
		if d >= limit/2 {
			d = limit
			break
		}
		d *= 2
	}
	if d > limit {
		d = limit
	}

	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		j := b.Jitter
		if j > 1 {
			j = 1
		}
		d = time.Duration(float64(d) * (1 - j*r()))
	}
	return d
}
