// Package hive assembles one Cohesix deployment: the complete provider
// tree at every path spec §4.2 requires, the root task orchestrator,
// NineDoor, and the serial/TCP consoles, all sharing one ticket table
// and audit sink (spec §2: "a deployment is a hive").
package hive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lukeb-aidev/cohesix-sub003/internal/audit"
	"github.com/lukeb-aidev/cohesix-sub003/internal/bounded"
	"github.com/lukeb-aidev/cohesix-sub003/internal/console"
	"github.com/lukeb-aidev/cohesix-sub003/internal/gpu"
	"github.com/lukeb-aidev/cohesix-sub003/internal/lifecycle"
	"github.com/lukeb-aidev/cohesix-sub003/internal/manifest"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ninedoor"
	"github.com/lukeb-aidev/cohesix-sub003/internal/provider"
	"github.com/lukeb-aidev/cohesix-sub003/internal/pump"
	"github.com/lukeb-aidev/cohesix-sub003/internal/roottask"
	"github.com/lukeb-aidev/cohesix-sub003/internal/telemetry"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
	"github.com/lukeb-aidev/cohesix-sub003/internal/worker"
)

// lifecycleStatus is the mutable publication backing /proc/lifecycle/*
// (spec §4.2, §4.7): "Each transition emits one audit line" and is also
// readable synchronously through the namespace.
type lifecycleStatus struct {
	mu     sync.Mutex
	reason string
	since  time.Time
}

func (s *lifecycleStatus) record(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reason = reason
	s.since = time.Now()
}

func (s *lifecycleStatus) snapshot() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, s.since
}

// Hive is one fully wired Cohesix deployment.
type Hive struct {
	Manifest     manifest.Manifest
	Tickets      *ticket.Table
	Audit        *audit.Sink
	Pump         *pump.Pump
	Orchestrator *roottask.Orchestrator
	NineDoor     *ninedoor.Server
	Console      *console.Handler
	TCP          *console.TCPConsole
	Serial       *console.Serial

	Root         *provider.Dir
	Devices      map[string]*telemetry.Device
	devicesMu    sync.Mutex
	telemetryDir *provider.Dir
	queenLogNode *provider.Watch

	gpus   map[string]*gpuEntry
	gpuMu  sync.Mutex
	gpuDir *provider.Dir

	qid    uint64
	status *lifecycleStatus
}

func (h *Hive) nextQid() uint64 {
	h.qid++
	return h.qid
}

// Build constructs a complete, unstarted Hive from m.
func Build(m manifest.Manifest) *Hive {
	h := &Hive{
		Manifest: m,
		Tickets:  ticket.NewTable(),
		Audit:    audit.NewSink(bounded.NewClock(), 64*1024),
		Pump:     pump.New(64),
		Devices:  make(map[string]*telemetry.Device),
		gpus:     make(map[string]*gpuEntry),
		status:   &lifecycleStatus{since: time.Now()},
	}

	h.Orchestrator = roottask.New(h.Tickets, worker.NewTable(), gpu.NewTable(), h.Audit, h.Pump, h.onTransition)
	h.Orchestrator.Boot(m.EventPump.TickMs)

	h.Root = h.buildTree()
	h.Orchestrator.OnWorkerSpawned = h.mountWorker
	h.Orchestrator.OnWorkerKilled = h.unmountWorker
	h.NineDoor = ninedoor.NewServer(h.Root, h.Tickets, h.Audit, h.Orchestrator)

	h.Console = &console.Handler{
		Root:      h.Root,
		Tickets:   h.Tickets,
		CtlRoot:   h.Orchestrator,
		Limiter:   console.NewAuthLimiter(),
		Audit:     h.Audit,
		BootToken: m.BootToken,
	}

	h.seedTickets(m.Tickets)
	return h
}

func (h *Hive) onTransition(old, new lifecycle.State, reason string) {
	h.status.record(reason)
	if h.Audit != nil {
		h.Audit.Append("root-task", "lifecycle", "/proc/lifecycle", "allow", fmt.Sprintf("old=%s new=%s reason=%s", old, new, reason))
	}
}

func (h *Hive) seedTickets(seeds []manifest.TicketSeed) {
	for _, s := range seeds {
		var id ticket.ID
		n := copy(id[:], s.ID)
		_ = n
		role := roleFromString(s.Role)
		h.Tickets.Seed(id, role, s.Subject, s.Mounts, ticket.Quota{Ticks: s.Ticks, Ops: s.Ops, TTLs: s.TTLs})
	}
}

func roleFromString(s string) ticket.Role {
	switch s {
	case "worker-heartbeat":
		return ticket.RoleWorkerHeartbeat
	case "worker-gpu":
		return ticket.RoleWorkerGPU
	default:
		return ticket.RoleQueen
	}
}

// Device returns (creating and mounting if necessary) the telemetry
// device for id, backing /queen/telemetry/<device>/{ctl,seg/<n>,latest}
// (spec §4.2). It is also reachable without any prior provisioning step
// by simply walking or opening a path under /queen/telemetry/: the
// directory's OnMissing hook (wired in buildTree) calls this on first
// reference (spec §8 S4).
func (h *Hive) Device(id string) *telemetry.Device {
	h.devicesMu.Lock()
	defer h.devicesMu.Unlock()
	d, _ := h.deviceLocked(id)
	return d
}

// deviceLocked builds (or returns the cached) device and its backing
// directory. Callers must hold devicesMu. It adds the new directory
// directly to h.telemetryDir rather than via dirAt/Walk, since
// telemetryDir's own OnMissing hook calls back into this function —
// going through Walk here would recurse.
func (h *Hive) deviceLocked(id string) (*telemetry.Device, *provider.Dir) {
	if d, ok := h.Devices[id]; ok {
		n, _ := h.telemetryDir.Walk(id)
		return d, n.(*provider.Dir)
	}

	devDir := provider.NewDir(id, h.nextQid(), provider.AllowAll)
	h.telemetryDir.Add(id, devDir)
	segDir := provider.NewDir("seg", h.nextQid(), provider.AllowAll)
	devDir.Add("seg", segDir)

	d := telemetry.NewDevice(id, &h.qid, func(name string, qidPath uint64) *provider.RegAppend {
		n := provider.NewRegAppend(name, qidPath, telemetry.SegmentBytes, provider.QueenOnly)
		segDir.Add(name, n)
		return n
	})
	h.Devices[id] = d

	devDir.Add("latest", provider.NewRegRO("latest", h.nextQid(), func() []byte {
		return []byte(d.Latest() + "\n")
	}))
	ctl := provider.NewRegAppend("ctl", h.nextQid(), 4096, provider.QueenOnly)
	ctl.OnWrite(func(p []byte) { d.Append(p) })
	devDir.Add("ctl", ctl)

	return d, devDir
}

// Run starts the pump's owner goroutine and its tick-driven drivers
// (worker/gpu budget expiry, spec §4.5's periodic timer) until ctx is
// cancelled.
func (h *Hive) Run(ctx context.Context) {
	go h.Pump.Run(ctx)
	tick := time.Duration(h.Manifest.EventPump.TickMs) * time.Millisecond
	if tick <= 0 {
		tick = 5 * time.Millisecond
	}
	go h.Pump.Ticker(ctx, tick, func() {
		for _, id := range h.Orchestrator.Workers.Tick() {
			h.unmountWorker(id)
			h.Audit.Append("root-task", "kill", "/worker/"+id, "ok", "budget-expired")
		}
		for _, pair := range h.Orchestrator.GPUs.Tick() {
			h.Audit.Append("root-task", "lease", "/gpu/"+pair[0], "released", "ttl-expired")
		}
	})
}
