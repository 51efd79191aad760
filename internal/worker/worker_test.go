package worker

import (
	"testing"

	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

func TestSpawnAllocatesSequentialIDs(t *testing.T) {
	tbl := NewTable()
	w1 := tbl.Spawn(ticket.RoleWorkerHeartbeat, nil, Budget{Ticks: 5}, "ses-1")
	w2 := tbl.Spawn(ticket.RoleWorkerHeartbeat, nil, Budget{Ticks: 5}, "ses-1")
	if w1.ID != "worker-1" || w2.ID != "worker-2" {
		t.Fatalf("expected sequential ids, got %s %s", w1.ID, w2.ID)
	}
}

func TestTickExpiresOnZeroTicks(t *testing.T) {
	tbl := NewTable()
	w := tbl.Spawn(ticket.RoleWorkerHeartbeat, nil, Budget{Ticks: 2}, "ses-1")

	if tbl.Count() != 1 {
		t.Fatalf("expected 1 live worker, got %d", tbl.Count())
	}

	expired := tbl.Tick()
	if len(expired) != 0 {
		t.Fatalf("worker should survive first tick, got expired=%v", expired)
	}
	expired = tbl.Tick()
	if len(expired) != 1 || expired[0] != w.ID {
		t.Fatalf("expected %s to expire on second tick, got %v", w.ID, expired)
	}
	if tbl.Count() != 0 {
		t.Fatalf("expected 0 live workers after expiry, got %d", tbl.Count())
	}
}

func TestKillUnknownWorkerIsENOENT(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Kill("worker-404"); err == nil {
		t.Fatal("expected ENOENT for unknown worker")
	}
}

func TestConsumeOpExhaustsBudget(t *testing.T) {
	tbl := NewTable()
	w := tbl.Spawn(ticket.RoleWorkerHeartbeat, nil, Budget{Ops: 1}, "ses-1")
	if err := w.ConsumeOp(); err != nil {
		t.Fatalf("first op should succeed: %v", err)
	}
	if err := w.ConsumeOp(); err == nil {
		t.Fatal("second op should fail once ops budget is exhausted")
	}
}
