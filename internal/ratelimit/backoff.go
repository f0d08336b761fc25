package ratelimit

import (
	"math"
	"time"
)

// delay computes the advisory backoff for the given consecutive-failure
// count (pre-increment, so the first denial yields the base delay). The
// delay is capped before jitter; jitter spreads the result by up to
// ±jitterFactor/2 and the total never goes below zero.
//
// The delay is a hint carried in RateLimitError; the limiter itself never
// sleeps.
func (l *Limiter) delay(failures int) time.Duration {
	d := float64(l.backoff.BaseDelay) * math.Pow(l.backoff.Multiplier, float64(failures))
	if capped := float64(l.backoff.MaxDelay); d > capped {
		d = capped
	}

	jitter := d * l.backoff.JitterFactor * (l.randFn() - 0.5)
	total := time.Duration(d + jitter)
	if total < 0 {
		total = 0
	}
	return total
}
