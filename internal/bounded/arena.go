package bounded

import "sync/atomic"

// Arena hands out stable, monotonically increasing 64-bit identifiers for
// the lifetime of one boot; it is never reset except by a fresh boot of
// the whole process. The provider tree's qid paths come from hive's own
// counter, not from an Arena.
type Arena struct {
	next uint64
}

// NewArena starts an identifier arena at 1 (0 is reserved to mean "no
// qid assigned yet").
func NewArena() *Arena {
	return &Arena{next: 1}
}

// Alloc returns the next identifier in the arena.
func (a *Arena) Alloc() uint64 {
	return atomic.AddUint64(&a.next, 1) - 1
}
