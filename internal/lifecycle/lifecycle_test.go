package lifecycle

import (
	"testing"

	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
)

func TestBootThenCordonThenDrain(t *testing.T) {
	outstanding := 0
	var transitions []string
	c := NewController(func() int { return outstanding }, func(old, new State, reason string) {
		transitions = append(transitions, old.String()+"->"+new.String())
	})

	if err := c.BootComplete(); err != nil {
		t.Fatalf("boot-complete: %v", err)
	}
	if c.State() != Online {
		t.Fatalf("expected ONLINE, got %s", c.State())
	}

	if err := c.Dispatch("cordon"); err != nil {
		t.Fatalf("cordon: %v", err)
	}
	if c.State() != Draining {
		t.Fatalf("expected DRAINING, got %s", c.State())
	}

	outstanding = 1
	if err := c.Dispatch("drain"); err == nil {
		t.Fatal("expected drain to be refused while leases are outstanding")
	}
	if c.State() != Draining {
		t.Fatalf("state should remain DRAINING on refusal, got %s", c.State())
	}

	outstanding = 0
	if err := c.Dispatch("drain"); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if c.State() != Quiesced {
		t.Fatalf("expected QUIESCED, got %s", c.State())
	}

	if len(transitions) != 3 {
		t.Fatalf("expected 3 committed transitions, got %v", transitions)
	}
}

func TestResetIsValidFromAnyState(t *testing.T) {
	c := NewController(func() int { return 0 }, nil)
	if err := c.Reset(); err != nil {
		t.Fatalf("reset from BOOTING: %v", err)
	}
	c.BootComplete()
	if err := c.Reset(); err != nil {
		t.Fatalf("reset from ONLINE: %v", err)
	}
	if c.State() != Booting {
		t.Fatalf("expected BOOTING after reset, got %s", c.State())
	}
}

func TestDrainRejectedOutsideDraining(t *testing.T) {
	c := NewController(func() int { return 0 }, nil)
	if err := c.Drain(); err == nil {
		t.Fatal("expected drain to be rejected from BOOTING")
	}
}

func TestDrainRefusalReasonIsOutstandingLeases(t *testing.T) {
	c := NewController(func() int { return 1 }, nil)
	c.BootComplete()
	c.Cordon()

	err := c.Drain()
	if err == nil {
		t.Fatal("expected drain to be refused while a lease is outstanding")
	}
	if coherr.ReasonOf(err) != "outstanding-leases" {
		t.Fatalf("expected reason %q, got %q", "outstanding-leases", coherr.ReasonOf(err))
	}
	e, ok := coherr.As(err)
	if !ok || e.Detail != "1" {
		t.Fatalf("expected detail %q, got %+v", "1", e)
	}
}

func TestDisallowedTransitionReasonIsPolicy(t *testing.T) {
	c := NewController(func() int { return 0 }, nil)
	if err := c.Cordon(); coherr.ReasonOf(err) != "policy" {
		t.Fatalf("expected cordon from BOOTING to report reason=policy, got %q", coherr.ReasonOf(err))
	}
}
