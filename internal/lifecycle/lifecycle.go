// Package lifecycle implements the root task's state machine (spec
// §4.7): BOOTING, ONLINE, DRAINING, QUIESCED, and the declared
// transition graph between them.
package lifecycle

import (
	"sync"

	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
)

// State is one of the four lifecycle states.
type State int

const (
	Booting State = iota
	Online
	Draining
	Quiesced
)

func (s State) String() string {
	switch s {
	case Booting:
		return "BOOTING"
	case Online:
		return "ONLINE"
	case Draining:
		return "DRAINING"
	case Quiesced:
		return "QUIESCED"
	}
	return "UNKNOWN"
}

// OutstandingFunc reports how many ACTIVE leases or live workers remain,
// which gates the DRAINING → QUIESCED transition (spec §4.7).
type OutstandingFunc func() int

// Controller owns the single lifecycle state the whole hive shares. It
// never panics on a disallowed transition; it returns a *coherr.Error
// and leaves the state untouched (spec §4.8 "Kernel error during side
// effect" is the only thing that can force an unsolicited transition,
// via ForceDraining).
type Controller struct {
	mu           sync.Mutex
	state        State
	outstanding  OutstandingFunc
	onTransition func(old, new State, reason string)
}

// NewController starts in BOOTING. outstanding reports the count of
// ACTIVE leases/live workers blocking a drain; onTransition, if non-nil,
// is invoked after every committed transition (used to emit the audit
// line spec §4.7 requires).
func NewController(outstanding OutstandingFunc, onTransition func(old, new State, reason string)) *Controller {
	return &Controller{state: Booting, outstanding: outstanding, onTransition: onTransition}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) commit(new State, reason string) {
	old := c.state
	c.state = new
	if c.onTransition != nil {
		c.onTransition(old, new, reason)
	}
}

// BootComplete fires the automatic BOOTING → ONLINE transition once
// bootstrap finishes and NineDoor answers its first version (spec
// §4.7).
func (c *Controller) BootComplete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Booting {
		return coherr.New(coherr.EINVAL, "boot-complete is only valid from BOOTING")
	}
	c.commit(Online, "boot-complete")
	return nil
}

// Cordon is `lifecycle cordon`: ONLINE → DRAINING. Ingest continues;
// new worker spawns and lease acquisitions are refused once draining.
func (c *Controller) Cordon() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Online {
		return coherr.NewReason(coherr.EPERM, "policy", "cordon is only valid from ONLINE")
	}
	c.commit(Draining, "cordon")
	return nil
}

// Drain is `lifecycle drain`: DRAINING → QUIESCED, refused with
// ELIMIT-free ERR reason=outstanding-leases while any lease/worker is
// still live (spec §4.7).
func (c *Controller) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Draining {
		return coherr.NewReason(coherr.EPERM, "policy", "drain is only valid from DRAINING")
	}
	if n := c.outstanding(); n > 0 {
		return coherr.NewReason(coherr.EBUSY, "outstanding-leases", "%d", n)
	}
	c.commit(Quiesced, "drain")
	return nil
}

// Resume is `lifecycle resume`: DRAINING → ONLINE.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Draining {
		return coherr.NewReason(coherr.EPERM, "policy", "resume is only valid from DRAINING")
	}
	c.commit(Online, "resume")
	return nil
}

// Reset is `lifecycle reset`: any state → BOOTING (explicit reboot
// intent), the one transition valid from every state (spec §4.7).
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commit(Booting, "reset")
	return nil
}

// ForceDraining is the non-recoverable-error path (spec §4.8: "Kernel
// error during side effect ... lifecycle advances to DRAINING if the
// error is non-recoverable"). It is valid from ONLINE only; a panic or
// unrecoverable root-task error halts the pump entirely rather than
// calling this.
func (c *Controller) ForceDraining(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Online {
		c.commit(Draining, reason)
	}
}

// Dispatch maps a /queen/ctl or console `lifecycle` action name onto the
// corresponding transition.
func (c *Controller) Dispatch(action string) error {
	switch action {
	case "cordon":
		return c.Cordon()
	case "drain":
		return c.Drain()
	case "resume":
		return c.Resume()
	case "reset":
		return c.Reset()
	default:
		return coherr.New(coherr.EINVAL, "unknown lifecycle action %q", action)
	}
}
