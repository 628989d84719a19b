package main

import (
	"math/rand/v2"
	"time"
)

const jitterWindow = 250 * time.Millisecond

// pollBackoff doubles the wait after each failed poll up to max.
type pollBackoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newPollBackoff(base, max time.Duration) *pollBackoff {
	return &pollBackoff{base: base, max: max, current: base}
}

func (b *pollBackoff) failure() time.Duration {
	next := b.current * 2
	if next > b.max || next <= 0 {
		next = b.max
	}
	b.current = next
	return withJitter(next)
}

func (b *pollBackoff) idle() time.Duration {
	b.reset()
	return withJitter(b.base)
}

func (b *pollBackoff) reset() {
	b.current = b.base
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
