package bounded

import (
	"sync"
	"time"
)

// Clock hands out monotonically increasing millisecond timestamps with a
// sub-tick tiebreaker, so that no two (ms, tiebreak) readings ever
// compare equal.
type Clock struct {
	mu       sync.Mutex
	lastMs   int64
	tiebreak uint32
}

// NewClock returns a Clock anchored to the current wall time.
func NewClock() *Clock {
	return &Clock{}
}

// NowMs returns the current time in milliseconds and a tiebreaker that
// increases within the same millisecond, then resets on the next one.
func (c *Clock) NowMs() (ms int64, tiebreak uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixMilli()
	if now <= c.lastMs {
		c.tiebreak++
	} else {
		c.lastMs = now
		c.tiebreak = 0
	}
	return c.lastMs, c.tiebreak
}
