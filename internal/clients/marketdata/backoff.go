package marketdata

import (
	"sync"
	"time"
)

// backoff tracks vendor rate-limit pressure. Each rate-limit response doubles
// the hold period up to a ceiling; any success resets it. Callers check
// holdUntil before issuing requests and fall back to stale cache while held.
type backoff struct {
	mu        sync.Mutex
	initial   time.Duration
	max       time.Duration
	current   time.Duration
	holdUntil time.Time
	now       func() time.Time
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max, now: time.Now}
}

// failure records a rate-limit response and extends the hold.
func (b *backoff) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == 0 {
		b.current = b.initial
	} else {
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	}
	b.holdUntil = b.now().Add(b.current)
}

// success resets the backoff state.
func (b *backoff) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = 0
	b.holdUntil = time.Time{}
}

// held reports whether requests should be suppressed, and for how much
// longer.
func (b *backoff) held() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.holdUntil.Sub(b.now())
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}
