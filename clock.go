package ledger

import "time"

// Clock is an injectable wall-clock abstraction. Never call time.Now()
// directly inside a kernel component — take a Clock, the way
// original_source/finance_kernel/domain/clock.py requires of every
// service. The teacher has no such abstraction (its services call
// time.Now() inline); the kernel generalizes that into this interface so
// tests can inject a deterministic clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock, a thin wrapper over the system clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a deterministic test clock that returns a recorded
// sequence of timestamps, advancing one entry per call and holding on the
// last entry once exhausted.
type FixedClock struct {
	ticks []time.Time
	pos   int
}

// NewFixedClock builds a FixedClock over the given ticks. With no ticks
// it uses the Unix epoch as its only tick.
func NewFixedClock(ticks ...time.Time) *FixedClock {
	if len(ticks) == 0 {
		ticks = []time.Time{time.Unix(0, 0).UTC()}
	}
	return &FixedClock{ticks: ticks}
}

// Now returns the next recorded tick, holding on the last one once the
// sequence is exhausted.
func (c *FixedClock) Now() time.Time {
	t := c.ticks[c.pos]
	if c.pos < len(c.ticks)-1 {
		c.pos++
	}
	return t.UTC()
}
