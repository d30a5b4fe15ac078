package resilience

import (
	"context"
	"time"
)

// Backoff is a deterministic doubling delay: each Next call returns the
// current delay and doubles it, capped at the maximum. No jitter is
// applied, so observed waits are non-decreasing.
type Backoff struct {
	current time.Duration
	max     time.Duration
}

// NewBackoff creates a Backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = 300 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	return &Backoff{current: initial, max: max}
}

// Peek returns the delay the next Next call will produce, without advancing.
func (b *Backoff) Peek() time.Duration {
	return b.current
}

// Next returns the current delay and doubles the internal state, capped at
// the maximum.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Sleep waits for d or until the context is done, whichever comes first.
// Returns the context error on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
