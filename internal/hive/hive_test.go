package hive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lukeb-aidev/cohesix-sub003/internal/manifest"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ninesession"
	"github.com/lukeb-aidev/cohesix-sub003/internal/provider"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

func queenSession(h *Hive) *ninesession.Session {
	tk := &ticket.Ticket{Role: ticket.RoleQueen, Subject: "queen"}
	return ninesession.New(tk, 8192, "", "")
}

func TestBuildPopulatesRequiredPaths(t *testing.T) {
	h := Build(manifest.Default())

	for _, p := range []string{
		"proc/boot",
		"proc/lifecycle/state",
		"proc/root/reachable",
		"proc/tests/ping",
		"queen/ctl",
		"log/queen.log",
		"gpu/bridge/ctl",
		"gpu/bridge/status",
		"gpu/models/active",
		"gpu/telemetry/schema.json",
	} {
		if _, err := provider.WalkPath(h.Root, p); err != nil {
			t.Fatalf("expected path %q to exist: %v", p, err)
		}
	}
}

func TestBuildIsOnlineAfterVersionAnswered(t *testing.T) {
	h := Build(manifest.Default())
	if err := h.Orchestrator.VersionAnswered(); err != nil {
		t.Fatalf("boot complete: %v", err)
	}

	n, err := provider.WalkPath(h.Root, "proc/lifecycle/state")
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	buf := make([]byte, 64)
	nr, err := n.Read(0, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:nr]); got != "ONLINE\n" {
		t.Fatalf("expected ONLINE, got %q", got)
	}
}

func TestSpawnMountsWorkerShardSubtree(t *testing.T) {
	h := Build(manifest.Default())
	if err := h.Orchestrator.VersionAnswered(); err != nil {
		t.Fatalf("boot complete: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Run(ctx)

	ses := queenSession(h)
	id, perform, err := h.Orchestrator.SpawnHeartbeat(ses, 10, 60, 0)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := perform(); err != nil {
		t.Fatalf("perform: %v", err)
	}

	label := shardLabel(id)
	if _, err := provider.WalkPath(h.Root, "shard/"+label+"/worker/"+id+"/telemetry"); err != nil {
		t.Fatalf("expected shard telemetry node for %s: %v", id, err)
	}
	if _, err := provider.WalkPath(h.Root, "worker/"+id+"/telemetry"); err != nil {
		t.Fatalf("expected legacy worker alias for %s: %v", id, err)
	}

	killPerform, err := h.Orchestrator.Kill(ses, id)
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	if err := killPerform(); err != nil {
		t.Fatalf("kill perform: %v", err)
	}
	if _, err := provider.WalkPath(h.Root, "shard/"+label+"/worker/"+id); err == nil {
		t.Fatalf("expected worker %s to be unmounted after kill", id)
	}
}

func TestDeviceCreatesTelemetryTreeOnce(t *testing.T) {
	h := Build(manifest.Default())

	d1 := h.Device("gpu-0")
	d2 := h.Device("gpu-0")
	if d1 != d2 {
		t.Fatal("expected Device to return the same instance for a repeated id")
	}

	ctlNode, err := provider.WalkPath(h.Root, "queen/telemetry/gpu-0/ctl")
	if err != nil {
		t.Fatalf("expected ctl node: %v", err)
	}
	if _, err := ctlNode.Write([]byte(`{"ts":1,"util":50}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	latest, err := provider.WalkPath(h.Root, "queen/telemetry/gpu-0/latest")
	if err != nil {
		t.Fatalf("expected latest node: %v", err)
	}
	buf := make([]byte, 256)
	n, err := latest.Read(0, buf)
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if string(buf[:n]) == "\n" {
		t.Fatal("expected latest to reflect the written sample")
	}
}

func TestTelemetryDeviceAutoVivifiesOnWalk(t *testing.T) {
	h := Build(manifest.Default())

	// No call to h.Device: the directory must materialise purely from
	// being walked, as NineDoor's Twalk or console's resolve would.
	n, err := provider.WalkPath(h.Root, "queen/telemetry/dev-1/ctl")
	if err != nil {
		t.Fatalf("expected dev-1/ctl to auto-vivify on walk: %v", err)
	}
	if _, err := n.Write([]byte(`{"new":"segment","mime":"text/plain"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	latest, err := provider.WalkPath(h.Root, "queen/telemetry/dev-1/latest")
	if err != nil {
		t.Fatalf("expected latest to also exist after the ctl write: %v", err)
	}
	buf := make([]byte, 64)
	nr, err := latest.Read(0, buf)
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if got := string(buf[:nr]); got == "\n" {
		t.Fatalf("expected latest to reflect the written segment, got %q", got)
	}
}

func TestGPUBridgePublishMaterializesSubtree(t *testing.T) {
	h := Build(manifest.Default())

	ctlNode, err := provider.WalkPath(h.Root, "gpu/bridge/ctl")
	if err != nil {
		t.Fatalf("expected gpu/bridge/ctl: %v", err)
	}
	if _, err := ctlNode.Write([]byte(`{"gpu_id":"GPU-0","model":"H100","mem_mb":81920,"streams":4}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := provider.WalkPath(h.Root, "gpu/GPU-0/info")
	if err != nil {
		t.Fatalf("expected gpu/GPU-0/info to exist after publish: %v", err)
	}
	buf := make([]byte, 256)
	n, err := info.Read(0, buf)
	if err != nil {
		t.Fatalf("read info: %v", err)
	}
	if got := string(buf[:n]); !strings.Contains(got, "gpu_id=GPU-0") || !strings.Contains(got, "model=H100") {
		t.Fatalf("unexpected info contents: %q", got)
	}

	for _, p := range []string{"gpu/GPU-0/ctl", "gpu/GPU-0/lease", "gpu/GPU-0/status"} {
		if _, err := provider.WalkPath(h.Root, p); err != nil {
			t.Fatalf("expected %q to exist: %v", p, err)
		}
	}

	if err := h.Orchestrator.VersionAnswered(); err != nil {
		t.Fatalf("boot complete: %v", err)
	}
	ses := queenSession(h)
	_, perform, err := h.Orchestrator.SpawnGPU(ses, "GPU-0", 4096, 1, 120, "", 0, 0)
	if err != nil {
		t.Fatalf("spawn gpu: %v", err)
	}
	if err := perform(); err != nil {
		t.Fatalf("perform: %v", err)
	}

	lease, err := provider.WalkPath(h.Root, "gpu/GPU-0/lease")
	if err != nil {
		t.Fatalf("walk lease: %v", err)
	}
	n, err = lease.Read(0, buf)
	if err != nil {
		t.Fatalf("read lease: %v", err)
	}
	if got := string(buf[:n]); !strings.Contains(got, "gpu_id=GPU-0") || !strings.Contains(got, "state=ACTIVE") {
		t.Fatalf("expected an ACTIVE lease line, got %q", got)
	}
}

func TestAuditAppendMirrorsIntoQueenLog(t *testing.T) {
	h := Build(manifest.Default())

	h.Audit.Append("queen", "lifecycle", "/proc/lifecycle", "allow", "")

	n, err := provider.WalkPath(h.Root, "log/queen.log")
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	buf := make([]byte, 256)
	nr, err := n.Read(0, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if nr == 0 {
		t.Fatal("expected the audit line to be mirrored into /log/queen.log")
	}
}

func TestRunDrivesWorkerBudgetTicks(t *testing.T) {
	m := manifest.Default()
	m.EventPump.TickMs = 1
	h := Build(m)
	if err := h.Orchestrator.VersionAnswered(); err != nil {
		t.Fatalf("boot complete: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Run(ctx)

	ses := queenSession(h)
	id, perform, err := h.Orchestrator.SpawnHeartbeat(ses, 2, 60, 0)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := perform(); err != nil {
		t.Fatalf("perform: %v", err)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if h.Orchestrator.Workers.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = id
	t.Fatal("expected the worker to be reaped once its tick budget was exhausted")
}
