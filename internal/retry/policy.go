// Package retry decides how long a requeued message waits before its next
// delivery and when requeueing stops. Attempts travel inside the message,
// so a Policy is evaluated fresh on every delivery.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

type Policy struct {
	// MaxAttempts bounds the number of requeues. Zero means unbounded.
	MaxAttempts int
	// Delay is the wait before the first redelivery.
	Delay time.Duration
	// Multiplier grows the delay per attempt. Values <= 1 keep it fixed.
	Multiplier float64
	// MaxDelay caps the grown delay. Zero means no cap.
	MaxDelay time.Duration
	// Jitter spreads the delay by up to this fraction in either direction.
	Jitter float64

	rand func() float64
}

// Fixed returns a policy with a constant delay.
func Fixed(delay time.Duration, maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts, Delay: delay}
}

// Exhausted reports whether a message that has already been requeued
// attempt times may not be requeued again.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// maxBackoff bounds a grown delay well inside the Duration range.
const maxBackoff = float64(1 << 62)

// Backoff returns the delay before redelivery number attempt+1. Without a
// MaxDelay a growing delay saturates instead of overflowing.
func (p Policy) Backoff(attempt int) time.Duration {
	d := float64(p.Delay)
	if p.Multiplier > 1 && attempt > 0 {
		d *= math.Pow(p.Multiplier, float64(attempt))
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	d = min(d, maxBackoff)
	if p.Jitter > 0 {
		r := p.rand
		if r == nil {
			r = rand.Float64
		}
		d += d * p.Jitter * (2*r() - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(min(d, maxBackoff))
}

// Span is the nominal time spent waiting over the first attempts
// redeliveries, ignoring jitter.
func (p Policy) Span(attempts int) time.Duration {
	p.Jitter = 0
	var total time.Duration
	for i := range attempts {
		b := p.Backoff(i)
		if total > time.Duration(math.MaxInt64)-b {
			return time.Duration(math.MaxInt64)
		}
		total += b
	}
	return total
}
