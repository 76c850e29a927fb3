package connection

import (
	"math"
	"math/bits"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxDoublings is how many times base can double and still fit in a
// time.Duration.
func maxDoublings(base time.Duration) int {
	if base <= 0 {
		return 0
	}
	return bits.Len64(uint64(math.MaxInt64/base)) - 1
}

// newBackoff returns the reconnect schedule: base, 2*base, 4*base, ...
// for maxAttempts attempts, then backoff.Stop. There is no jitter and no
// interval cap below the last attempt, so delays strictly increase.
// maxAttempts is clamped so the last delay cannot overflow.
func newBackoff(base time.Duration, maxAttempts int) backoff.BackOff {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	maxInterval := time.Duration(math.MaxInt64)
	if limit := maxDoublings(base); maxAttempts <= limit {
		maxInterval = base << uint(maxAttempts)
	} else if limit > 0 {
		maxAttempts = limit
		maxInterval = base << uint(limit)
	} else {
		maxAttempts = 1
	}

	exp := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(maxAttempts))
}
