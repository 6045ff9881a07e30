package notify

import "time"

// Backoff computes reconnect delays: base doubled per consecutive
// failure, capped at max. Not safe for concurrent use.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

// NewBackoff creates a backoff schedule. Non-positive inputs fall back
// to 1s base and 30s cap.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Backoff{base: base, max: max}
}

// Next returns the delay for the current attempt and advances the
// schedule
func (b *Backoff) Next() time.Duration {
	d := b.base
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d >= b.max {
			d = b.max
			break
		}
	}
	b.attempt++
	return d
}

// Attempt returns the number of delays handed out since the last reset
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset restarts the schedule after a successful connection
func (b *Backoff) Reset() {
	b.attempt = 0
}
