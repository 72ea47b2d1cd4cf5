package realtime

import (
	"math/rand/v2"
	"time"
)

// backoff produces exponentially growing, jittered reconnect delays.
type backoff struct {
	min, max time.Duration
	attempt  int
}

func newBackoff(min, max time.Duration) *backoff {
	if min <= 0 {
		min = 500 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &backoff{min: min, max: max}
}

// Next returns the delay before the next attempt.
func (b *backoff) Next() time.Duration {
	d := b.min << min(b.attempt, 30)
	if d <= 0 || d > b.max {
		d = b.max
	}
	b.attempt++
	// ±20% jitter so that clients dropped together do not reconnect together.
	jitter := time.Duration(rand.Int64N(int64(d)/5+1)) * 2
	return d - d/5 + jitter
}

// Reset starts over after a successful connection.
func (b *backoff) Reset() {
	b.attempt = 0
}
