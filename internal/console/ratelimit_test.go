package console

import "testing"

func TestAuthLimiterBlocksAfterThreeFailures(t *testing.T) {
	lim := NewAuthLimiter()

	if lim.Blocked("peer-1") {
		t.Fatal("fresh peer must not start blocked")
	}

	var tripped bool
	for i := 0; i < authFailureBurst; i++ {
		tripped = lim.RecordFailure("peer-1")
	}
	if !tripped {
		t.Fatal("3rd failure should trip the block")
	}
	if !lim.Blocked("peer-1") {
		t.Fatal("peer should be blocked after exhausting the burst")
	}
}

func TestAuthLimiterSuccessResetsHistory(t *testing.T) {
	lim := NewAuthLimiter()

	lim.RecordFailure("peer-2")
	lim.RecordFailure("peer-2")
	lim.RecordSuccess("peer-2")

	if lim.Blocked("peer-2") {
		t.Fatal("success should clear failure history")
	}

	// after reset, the peer should be able to fail twice more without
	// tripping a block.
	if tripped := lim.RecordFailure("peer-2"); tripped {
		t.Fatal("reset peer should not be immediately blocked on first failure")
	}
}

func TestAuthLimiterIsolatesPeers(t *testing.T) {
	lim := NewAuthLimiter()
	for i := 0; i < authFailureBurst; i++ {
		lim.RecordFailure("peer-a")
	}
	if !lim.Blocked("peer-a") {
		t.Fatal("peer-a should be blocked")
	}
	if lim.Blocked("peer-b") {
		t.Fatal("peer-b should be unaffected by peer-a's failures")
	}
}
