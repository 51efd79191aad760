// Package ticket mints and validates the capability tickets that bind a
// Secure9P session to a role, a mount set, and a quota envelope (spec §3
// Ticket, §9 "Open questions": tickets carry a flat quota record, not a
// Merkle-hashed schedule).
package ticket

import (
	"crypto/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
)

// Role is one of the three roles a ticket can bind a session to.
type Role int

const (
	RoleQueen Role = iota
	RoleWorkerHeartbeat
	RoleWorkerGPU
)

func (r Role) String() string {
	switch r {
	case RoleQueen:
		return "queen"
	case RoleWorkerHeartbeat:
		return "worker-heartbeat"
	case RoleWorkerGPU:
		return "worker-gpu"
	}
	return "unknown"
}

// ID is the 32-byte opaque ticket identifier handed to a client on
// attach. The first 16 bytes are a uuid (for audit correlation); the
// remaining 16 are random filler so the wire representation is always
// exactly 32 bytes regardless of how the identifier is derived.
type ID [32]byte

// Quota is the flat budget record bound to a ticket (Open Question 1:
// flat record, not a Merkle-hashed schedule).
type Quota struct {
	Ticks int
	Ops   int
	TTLs  int
}

// Ticket is the immutable binding minted by the root task. Once
// revoked, a Ticket's identifier must never be reused (spec §3
// invariant).
type Ticket struct {
	ID       ID
	Role     Role
	Subject  string // human-readable subject, e.g. "queen" or "worker-3"
	Mounts   []string
	Quota    Quota
	Revoked  bool
}

func newID() ID {
	var id ID
	u := uuid.New()
	copy(id[:16], u[:])
	rand.Read(id[16:])
	return id
}

// Table is the root task's sole authority over ticket lifecycle:
// minting, lookup, and revocation. It is mutated only by the root task
// and read by every attach (spec §3 Ownership).
type Table struct {
	mu      sync.Mutex
	tickets map[ID]*Ticket
	revoked map[ID]bool
}

// NewTable returns an empty ticket table.
func NewTable() *Table {
	return &Table{
		tickets: make(map[ID]*Ticket),
		revoked: make(map[ID]bool),
	}
}

// Mint creates a new ticket bound to role/subject/mounts/quota and
// installs it in the table. Minting never reuses the identifier of a
// revoked ticket, since identifiers are drawn from a fresh uuid each
// time.
func (t *Table) Mint(role Role, subject string, mounts []string, quota Quota) *Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk := &Ticket{
		ID:      newID(),
		Role:    role,
		Subject: subject,
		Mounts:  append([]string(nil), mounts...),
		Quota:   quota,
	}
	t.tickets[tk.ID] = tk
	return tk
}

// Seed installs a manifest-supplied ticket at a caller-chosen ID, used
// only at boot to materialise the tickets named in the manifest.
func (t *Table) Seed(id ID, role Role, subject string, mounts []string, quota Quota) *Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk := &Ticket{ID: id, Role: role, Subject: subject, Mounts: append([]string(nil), mounts...), Quota: quota}
	t.tickets[id] = tk
	return tk
}

// Lookup validates a ticket presented on attach. A revoked ticket is
// never reusable (spec §3 invariant): it returns EPERM even though the
// struct technically still exists in the revoked set, which is kept
// only to reject replays explicitly rather than silently as ENOENT.
func (t *Table) Lookup(id ID) (*Ticket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.revoked[id] {
		return nil, coherr.New(coherr.EPERM, "ticket revoked")
	}
	tk, ok := t.tickets[id]
	if !ok {
		return nil, coherr.New(coherr.ENOENT, "unknown ticket")
	}
	return tk, nil
}

// Revoke permanently invalidates a ticket. Subsequent Lookup calls for
// the same ID always fail.
func (t *Table) Revoke(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.tickets, id)
	t.revoked[id] = true
}

// Short returns the short identifier used in audit lines
// (ts=... subject=<ticket-id-short> ...), the first 8 hex chars of the
// ticket ID.
func (id ID) Short() string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := 0; i < 4; i++ {
		buf[i*2] = hex[id[i]>>4]
		buf[i*2+1] = hex[id[i]&0xf]
	}
	return string(buf)
}
