// Package roottask implements component C9, the root task orchestrator
// (spec §4.5): capability bootstrap simulation, device mapping, and the
// sole authority over worker, GPU lease, and lifecycle side effects
// that the ctl grammar and the consoles drive through the RootTask
// interface (ctl.RootTask, console.Handler.CtlRoot). Every mutation is
// funneled through a single pump.Pump so it runs on one logical owner
// goroutine, mirroring minimega's single cmdProcessor.
package roottask

import (
	"fmt"

	"github.com/lukeb-aidev/cohesix-sub003/internal/audit"
	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
	"github.com/lukeb-aidev/cohesix-sub003/internal/gpu"
	"github.com/lukeb-aidev/cohesix-sub003/internal/lifecycle"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ninesession"
	"github.com/lukeb-aidev/cohesix-sub003/internal/pump"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
	"github.com/lukeb-aidev/cohesix-sub003/internal/worker"
)

// BootStep names one ordered bootstrap action (spec §4.5). Orchestrator
// only simulates the seL4-specific steps (BootInfo parsing, untyped
// carving, device mapping) since there is no kernel underneath this
// implementation to actually touch; the simulation records in
// Orchestrator.BootLog the same ordered narrative a real root task would
// produce. /proc/boot does not read BootLog.
type BootStep struct {
	Name string
	Detail string
}

// DefaultBootSteps is the fixed bootstrap rotation spec §4.5 enumerates.
func DefaultBootSteps(tickMs int) []BootStep {
	return []BootStep{
		{"parse-bootinfo", "empty slot window, untyped list, init CNode bits"},
		{"refuse-kernel-touch", "root endpoint not yet published"},
		{"carve-device-pagetable-pool", "reserved untyped bits=16"},
		{"map-uart-mmio", "PL011 frame mapped uncached, early ring logger installed"},
		{"configure-timer", fmt.Sprintf("tick=%dms", tickMs)},
		{"install-ticket-table", "manifest-supplied ticket seeds"},
		{"start-event-pump", "cooperative rotation armed"},
	}
}

// Orchestrator is the root task: it owns every table whose mutation
// spec §4.5's ordering guarantee ("acknowledgements are emitted before
// side effects; audit lines are emitted after side effects complete")
// governs, and is the sole structural implementer of ctl.RootTask.
type Orchestrator struct {
	Tickets   *ticket.Table
	Workers   *worker.Table
	GPUs      *gpu.Table
	LC *lifecycle.Controller
	Audit     *audit.Sink
	Pump      *pump.Pump
	BootLog   []BootStep

	// OnWorkerSpawned/OnWorkerKilled let the hive wiring the orchestrator
	// lives in create or remove the worker's namespace presence (its
	// shard telemetry node) in step with the worker table, without
	// roottask needing to import provider itself.
	OnWorkerSpawned func(id string, role ticket.Role)
	OnWorkerKilled  func(id string)
}

// New builds an Orchestrator with its own lifecycle controller, whose
// outstanding-resource check (gating DRAINING → QUIESCED) counts live
// workers and active GPU leases (spec §4.7: "iff no ACTIVE lease and no
// live worker").
func New(tickets *ticket.Table, workers *worker.Table, gpus *gpu.Table, sink *audit.Sink, p *pump.Pump, onTransition func(old, new lifecycle.State, reason string)) *Orchestrator {
	o := &Orchestrator{Tickets: tickets, Workers: workers, GPUs: gpus, Audit: sink, Pump: p}
	o.LC = lifecycle.NewController(func() int {
		return o.Workers.Count() + o.GPUs.ActiveCount()
	}, onTransition)
	return o
}

func (o *Orchestrator) requireOnline() error {
	if o.LC.State() != lifecycle.Online {
		return coherr.New(coherr.EPERM, "worker spawns and lease acquisitions are refused while not ONLINE")
	}
	return nil
}

// SpawnHeartbeat implements ctl.RootTask.
func (o *Orchestrator) SpawnHeartbeat(ses *ninesession.Session, ticks, ttlS, ops int) (string, func() error, error) {
	if err := o.requireOnline(); err != nil {
		return "", nil, err
	}
	var w *worker.Worker
	err := o.Pump.SubmitErr(func() error {
		tk := o.Tickets.Mint(ticket.RoleWorkerHeartbeat, "worker-heartbeat", nil, ticket.Quota{Ticks: ticks, Ops: ops, TTLs: ttlS})
		w = o.Workers.Spawn(ticket.RoleWorkerHeartbeat, tk, worker.Budget{Ticks: ticks, Ops: ops, TTLs: ttlS}, "")
		if o.OnWorkerSpawned != nil {
			o.OnWorkerSpawned(w.ID, ticket.RoleWorkerHeartbeat)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	id := w.ID
	perform := func() error {
		o.Audit.Append(ses.Ticket.Subject, "spawn", "/worker/"+id, "ok", "")
		return nil
	}
	return id, perform, nil
}

// SpawnGPU implements ctl.RootTask: it spawns a worker bound to gpuID
// and immediately acquires the GPU lease on its behalf (spec §4.3
// `spawn {role:"gpu", ...}`).
func (o *Orchestrator) SpawnGPU(ses *ninesession.Session, gpuID string, memMB, streams, ttlS int, priority string, budgetTTLs, budgetOps int) (string, func() error, error) {
	if err := o.requireOnline(); err != nil {
		return "", nil, err
	}
	var w *worker.Worker
	err := o.Pump.SubmitErr(func() error {
		tk := o.Tickets.Mint(ticket.RoleWorkerGPU, "worker-gpu", nil, ticket.Quota{Ticks: 0, Ops: budgetOps, TTLs: budgetTTLs})
		w = o.Workers.Spawn(ticket.RoleWorkerGPU, tk, worker.Budget{Ticks: 0, Ops: budgetOps, TTLs: budgetTTLs}, "")
		o.GPUs.Acquire(gpuID, w.ID, memMB, streams, ttlS, priority)
		if o.OnWorkerSpawned != nil {
			o.OnWorkerSpawned(w.ID, ticket.RoleWorkerGPU)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	id := w.ID
	perform := func() error {
		o.Audit.Append(ses.Ticket.Subject, "spawn", "/gpu/"+gpuID, "ok", "")
		return nil
	}
	return id, perform, nil
}

// Kill implements ctl.RootTask.
func (o *Orchestrator) Kill(ses *ninesession.Session, workerID string) (func() error, error) {
	err := o.Pump.SubmitErr(func() error {
		if err := o.Workers.Kill(workerID); err != nil {
			return err
		}
		if o.OnWorkerKilled != nil {
			o.OnWorkerKilled(workerID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return func() error {
		o.Audit.Append(ses.Ticket.Subject, "kill", "/worker/"+workerID, "ok", "")
		return nil
	}, nil
}

// Bind implements ctl.RootTask, adjusting the calling session's private
// mount table (spec §4.3 `bind {src,dst}`).
func (o *Orchestrator) Bind(ses *ninesession.Session, src, dst string) (func() error, error) {
	err := o.Pump.SubmitErr(func() error { return ses.Mounts.Bind(src, dst) })
	if err != nil {
		return nil, err
	}
	return func() error {
		o.Audit.Append(ses.Ticket.Subject, "bind", dst, "ok", "")
		return nil
	}, nil
}

// Mount implements ctl.RootTask, installing a named service root at a
// session-local path (spec §4.3 `mount {service,at}`).
func (o *Orchestrator) Mount(ses *ninesession.Session, service, at string) (func() error, error) {
	err := o.Pump.SubmitErr(func() error { return ses.Mounts.Mount(service, at) })
	if err != nil {
		return nil, err
	}
	return func() error {
		o.Audit.Append(ses.Ticket.Subject, "mount", at, "ok", "")
		return nil
	}, nil
}

// Lease implements ctl.RootTask: the queen session itself is the
// lessee of record, keyed by its session id, since the lease verb
// names no separate worker (spec §4.3 `lease {gpu_id,...}` carries no
// worker_id field — only spawn {role:"gpu"} ties a lease to a freshly
// spawned worker).
func (o *Orchestrator) Lease(ses *ninesession.Session, gpuID string, memMB, streams, ttlS int, priority string) (func() error, error) {
	if err := o.requireOnline(); err != nil {
		return nil, err
	}
	err := o.Pump.SubmitErr(func() error {
		o.GPUs.Acquire(gpuID, ses.ID, memMB, streams, ttlS, priority)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return func() error {
		o.Audit.Append(ses.Ticket.Subject, "lease", "/gpu/"+gpuID, "ok", "")
		return nil
	}, nil
}

// Lifecycle implements ctl.RootTask, driving the lifecycle controller
// through one of cordon/drain/resume/reset (spec §4.7).
func (o *Orchestrator) Lifecycle(ses *ninesession.Session, action string) (func() error, error) {
	err := o.Pump.SubmitErr(func() error { return o.LC.Dispatch(action) })
	if err != nil {
		return nil, err
	}
	return func() error {
		o.Audit.Append(ses.Ticket.Subject, "lifecycle", action, "ok", "")
		return nil
	}, nil
}

// Boot records the simulated capability bootstrap rotation (spec §4.5
// steps 1-6) in BootLog. It does not change lifecycle state: the
// BOOTING → ONLINE transition happens when the caller invokes
// VersionAnswered after NineDoor's first version reply (spec §4.7).
func (o *Orchestrator) Boot(tickMs int) {
	o.BootLog = DefaultBootSteps(tickMs)
}

// VersionAnswered completes the BOOTING → ONLINE transition once
// NineDoor has answered its first Tversion (spec §4.7).
func (o *Orchestrator) VersionAnswered() error {
	return o.LC.BootComplete()
}
