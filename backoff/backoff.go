// Package backoff paces reconnect attempts with a prime number delay sequence.
package backoff

import (
	"sync"
	"time"
)

// Primes is the delay sequence in seconds, capped by the Backoff's max.
var Primes = []int{1, 2, 3, 5, 11, 23, 47, 61}

// Backoff tracks consecutive failures and when the next attempt is allowed.
// The first attempt is always allowed.
type Backoff struct {
	mu       sync.Mutex
	max      time.Duration
	index    int
	notUntil time.Time
	now      func() time.Time
}

// New creates a Backoff whose delay never exceeds max.
func New(max time.Duration) *Backoff {
	return &Backoff{max: max, now: time.Now}
}

// WithClock swaps the time source (tests).
func (b *Backoff) WithClock(now func() time.Time) *Backoff {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// Ready reports whether an attempt may be made now.
func (b *Backoff) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.notUntil)
}

// Failure records a failed attempt and pushes the next allowed attempt out.
func (b *Backoff) Failure() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.delay()
	b.index++
	b.notUntil = b.now().Add(delay)
	return delay
}

// Success clears the failure streak.
func (b *Backoff) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index = 0
	b.notUntil = time.Time{}
}

// delay returns the wait for the current failure streak. Caller holds mu.
func (b *Backoff) delay() time.Duration {
	if b.index >= len(Primes) {
		return b.max
	}
	d := time.Duration(Primes[b.index]) * time.Second
	if d > b.max {
		d = b.max
	}
	return d
}
