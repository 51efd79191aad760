// Package gpu models host-arbitrated GPU lease allocations advertised
// at /gpu/<id>/lease (spec §3 GPU lease).
package gpu

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
)

// State is a lease's lifecycle state.
type State int

const (
	Active State = iota
	Released
)

func (s State) String() string {
	if s == Active {
		return "ACTIVE"
	}
	return "RELEASED"
}

// Lease is one GPU allocation (spec §3 GPU lease).
type Lease struct {
	GPUID    string
	WorkerID string
	MemMB    int
	Streams  int
	TTLs     int
	Priority string
	State    State

	acquiredAt time.Time
}

func leaseKey(gpuID, workerID string) string { return gpuID + "\x00" + workerID }

// Table enforces the invariant that at most one ACTIVE lease exists per
// (gpu_id, worker_id) pair at any instant (spec §3 GPU lease invariant,
// §8).
type Table struct {
	mu     sync.Mutex
	leases map[string]*Lease
}

// NewTable returns an empty lease table.
func NewTable() *Table {
	return &Table{leases: make(map[string]*Lease)}
}

// Acquire installs (or replaces) the ACTIVE lease for (gpuID, workerID).
// A fresh Acquire on the same pair simply supersedes the prior lease
// record, since the invariant is scoped per-pair, not global.
func (t *Table) Acquire(gpuID, workerID string, memMB, streams, ttlS int, priority string) *Lease {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := &Lease{
		GPUID: gpuID, WorkerID: workerID, MemMB: memMB, Streams: streams,
		TTLs: ttlS, Priority: priority, State: Active, acquiredAt: time.Now(),
	}
	t.leases[leaseKey(gpuID, workerID)] = l
	return l
}

// Release marks a lease RELEASED explicitly (rather than via TTL
// expiry), failing with ENOENT if no such lease exists.
func (t *Table) Release(gpuID, workerID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.leases[leaseKey(gpuID, workerID)]
	if !ok || l.State != Active {
		return coherr.New(coherr.ENOENT, "no active lease for gpu=%s worker=%s", gpuID, workerID)
	}
	l.State = Released
	return nil
}

// Tick expires any ACTIVE lease past its ttl_s, returning the
// (gpu_id, worker_id) pairs that transitioned to RELEASED this tick
// (spec §5: "expiry produces RELEASED ... audit lines").
func (t *Table) Tick() [][2]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired [][2]string
	for _, l := range t.leases {
		if l.State == Active && l.TTLs > 0 && time.Since(l.acquiredAt) >= time.Duration(l.TTLs)*time.Second {
			l.State = Released
			expired = append(expired, [2]string{l.GPUID, l.WorkerID})
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return fmt.Sprintf("%v", expired[i]) < fmt.Sprintf("%v", expired[j])
	})
	return expired
}

// ActiveCount returns the number of currently ACTIVE leases across the
// whole table, used to gate the DRAINING → QUIESCED lifecycle
// transition (spec §4.7: "iff no ACTIVE lease and no live worker").
func (t *Table) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, l := range t.leases {
		if l.State == Active {
			n++
		}
	}
	return n
}

// Get returns the current lease record for (gpuID, workerID), if any.
func (t *Table) Get(gpuID, workerID string) (*Lease, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.leases[leaseKey(gpuID, workerID)]
	if !ok {
		return nil, coherr.New(coherr.ENOENT, "no lease for gpu=%s worker=%s", gpuID, workerID)
	}
	return l, nil
}

// ForGPU returns the current lease record of every worker that has
// acquired gpuID, oldest acquisition first; a re-acquire by the same
// worker replaces that worker's earlier record. It feeds the namespace's
// /gpu/<id>/lease file (spec §8:
// "at most one ACTIVE lease per (gpu_id, worker_id) visible at any
// instant" must be an observable property of that file, not just of
// this table).
func (t *Table) ForGPU(gpuID string) []*Lease {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Lease
	for _, l := range t.leases {
		if l.GPUID == gpuID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].acquiredAt.Before(out[j].acquiredAt) })
	return out
}
