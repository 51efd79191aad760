package roottask

import (
	"context"
	"testing"

	"github.com/lukeb-aidev/cohesix-sub003/internal/audit"
	"github.com/lukeb-aidev/cohesix-sub003/internal/bounded"
	"github.com/lukeb-aidev/cohesix-sub003/internal/gpu"
	"github.com/lukeb-aidev/cohesix-sub003/internal/lifecycle"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ninesession"
	"github.com/lukeb-aidev/cohesix-sub003/internal/pump"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
	"github.com/lukeb-aidev/cohesix-sub003/internal/worker"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, context.CancelFunc) {
	t.Helper()
	p := pump.New(8)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	o := New(ticket.NewTable(), worker.NewTable(), gpu.NewTable(), audit.NewSink(bounded.NewClock(), 4096), p, nil)
	if err := o.VersionAnswered(); err != nil {
		t.Fatalf("boot complete: %v", err)
	}
	return o, cancel
}

func queenSession(t *testing.T) *ninesession.Session {
	t.Helper()
	tk := &ticket.Ticket{Role: ticket.RoleQueen, Subject: "queen"}
	return ninesession.New(tk, 8192, "", "")
}

func TestSpawnHeartbeatThenKill(t *testing.T) {
	o, cancel := newTestOrchestrator(t)
	defer cancel()
	ses := queenSession(t)

	id, perform, err := o.SpawnHeartbeat(ses, 10, 60, 0)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty worker id")
	}
	if err := perform(); err != nil {
		t.Fatalf("perform: %v", err)
	}
	if o.Workers.Count() != 1 {
		t.Fatalf("expected 1 worker, got %d", o.Workers.Count())
	}

	killPerform, err := o.Kill(ses, id)
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	if err := killPerform(); err != nil {
		t.Fatalf("kill perform: %v", err)
	}
	if o.Workers.Count() != 0 {
		t.Fatalf("expected worker removed, count=%d", o.Workers.Count())
	}
}

func TestSpawnGPUAcquiresLease(t *testing.T) {
	o, cancel := newTestOrchestrator(t)
	defer cancel()
	ses := queenSession(t)

	id, perform, err := o.SpawnGPU(ses, "gpu-0", 1024, 2, 30, "high", 0, 0)
	if err != nil {
		t.Fatalf("spawn gpu: %v", err)
	}
	perform()

	if o.GPUs.ActiveCount() != 1 {
		t.Fatalf("expected 1 active lease, got %d", o.GPUs.ActiveCount())
	}
	if _, err := o.GPUs.Get("gpu-0", id); err != nil {
		t.Fatalf("expected lease for %s: %v", id, err)
	}
}

func TestSpawnRefusedWhileDraining(t *testing.T) {
	o, cancel := newTestOrchestrator(t)
	defer cancel()
	ses := queenSession(t)

	if err := o.LC.Cordon(); err != nil {
		t.Fatalf("cordon: %v", err)
	}
	if _, _, err := o.SpawnHeartbeat(ses, 1, 0, 0); err == nil {
		t.Fatal("expected spawn to be refused while DRAINING")
	}
}

func TestLifecycleDispatchCordonThenDrain(t *testing.T) {
	o, cancel := newTestOrchestrator(t)
	defer cancel()
	ses := queenSession(t)

	perform, err := o.Lifecycle(ses, "cordon")
	if err != nil {
		t.Fatalf("cordon: %v", err)
	}
	perform()

	perform, err = o.Lifecycle(ses, "drain")
	if err != nil {
		t.Fatalf("drain with no outstanding resources: %v", err)
	}
	perform()

	if o.LC.State() != lifecycle.Quiesced {
		t.Fatalf("expected QUIESCED, got %s", o.LC.State())
	}
}

func TestBindInstallsSessionMount(t *testing.T) {
	o, cancel := newTestOrchestrator(t)
	defer cancel()
	ses := queenSession(t)

	perform, err := o.Bind(ses, "/proc/boot", "/mnt/boot")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := perform(); err != nil {
		t.Fatalf("perform: %v", err)
	}
	target, err := ses.Mounts.Resolve("/mnt/boot")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if target != "/proc/boot" {
		t.Fatalf("expected /proc/boot, got %s", target)
	}
}
