package session

import "time"

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
)

// Backoff doubles the delay for every attempt: base, 2*base, 4*base...
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
	attempt     int
}

// Next returns the delay before the next attempt, or false once the
// attempts are exhausted.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempt >= b.MaxAttempts {
		return 0, false
	}
	d := b.Base << b.attempt
	b.attempt++
	return d, true
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) Attempt() int {
	return b.attempt
}
