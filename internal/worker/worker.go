// Package worker models the in-VM tasks the root task spawns on a
// `spawn` command (spec §3 Worker): id, role, ticket, and a budget of
// ticks/ops/ttl_s enforced by the timer-driven pump tick.
package worker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

// Budget is the flat {ticks, ops, ttl_s} record bound to a worker at
// spawn time (spec §3 Worker, §9.3 spawn payload shapes). A zero field
// means that dimension is unbounded.
type Budget struct {
	Ticks int
	Ops   int
	TTLs  int
}

// Worker is an in-VM task spawned by the root task (spec §3 Worker).
type Worker struct {
	ID        string
	Role      ticket.Role
	Ticket    *ticket.Ticket
	Budget    Budget
	SessionID string

	mu        sync.Mutex
	ticksLeft int
	opsLeft   int
	spawnedAt time.Time
}

func newWorker(id string, role ticket.Role, tk *ticket.Ticket, budget Budget, sessionID string) *Worker {
	return &Worker{
		ID:        id,
		Role:      role,
		Ticket:    tk,
		Budget:    budget,
		SessionID: sessionID,
		ticksLeft: budget.Ticks,
		opsLeft:   budget.Ops,
		spawnedAt: time.Now(),
	}
}

// Tick consumes one pump tick from the worker's ticks budget (when
// bounded) and reports whether the worker has now expired, either by
// exhausting ticks or by outliving its ttl_s (spec §5: "GPU leases and
// worker budgets ... are enforced by the timer-driven tick").
func (w *Worker) Tick() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.Budget.Ticks > 0 {
		w.ticksLeft--
	}
	return w.expiredLocked()
}

func (w *Worker) expiredLocked() bool {
	if w.Budget.Ticks > 0 && w.ticksLeft <= 0 {
		return true
	}
	if w.Budget.TTLs > 0 && time.Since(w.spawnedAt) >= time.Duration(w.Budget.TTLs)*time.Second {
		return true
	}
	return false
}

// ConsumeOp debits one operation from the worker's ops budget, failing
// with ELIMIT once it is exhausted (spec §7 ELIMIT: "quota or ticket
// bandwidth exceeded").
func (w *Worker) ConsumeOp() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.Budget.Ops > 0 {
		if w.opsLeft <= 0 {
			return coherr.New(coherr.ELIMIT, "worker %s exhausted its ops budget", w.ID)
		}
		w.opsLeft--
	}
	return nil
}

// Table is the root task's sole authority over worker lifecycle (spec
// §3 Ownership: "the root task exclusively owns mutation of workers").
type Table struct {
	mu      sync.Mutex
	workers map[string]*Worker
	nextID  int
}

// NewTable returns an empty worker table.
func NewTable() *Table {
	return &Table{workers: make(map[string]*Worker)}
}

// Spawn allocates the next sequential worker-<n> id and installs a new
// Worker (spec §6: "worker ids are worker-<decimal>").
func (t *Table) Spawn(role ticket.Role, tk *ticket.Ticket, budget Budget, sessionID string) *Worker {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := fmt.Sprintf("worker-%d", t.nextID)
	w := newWorker(id, role, tk, budget, sessionID)
	t.workers[id] = w
	return w
}

// Get looks up a worker by id, failing with ENOENT if it doesn't exist.
func (t *Table) Get(id string) (*Worker, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.workers[id]
	if !ok {
		return nil, coherr.New(coherr.ENOENT, "no such worker %q", id)
	}
	return w, nil
}

// Kill removes a worker, failing with ENOENT if it never existed (spec
// §3 Worker: "destroyed on budget expiry, explicit kill, or lifecycle
// cut").
func (t *Table) Kill(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.workers[id]; !ok {
		return coherr.New(coherr.ENOENT, "no such worker %q", id)
	}
	delete(t.workers, id)
	return nil
}

// Tick advances every live worker's budget by one pump tick and removes
// any that have now expired, returning their ids so the caller can emit
// the equivalent kill audit line (spec §5: "expiry produces ... kill
// equivalent audit lines").
func (t *Table) Tick() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for id, w := range t.workers {
		if w.Tick() {
			expired = append(expired, id)
			delete(t.workers, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// Count returns the number of live workers, used to gate the
// DRAINING → QUIESCED lifecycle transition (spec §4.7).
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workers)
}

// List returns every live worker id, sorted.
func (t *Table) List() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.workers))
	for id := range t.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
