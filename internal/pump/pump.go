// Package pump serializes every mutating operation in the system onto
// one logical owner goroutine, the way minimega's cli.go funnels all
// commands through a single cmdChannel drained by one cmdProcessor
// goroutine ("prevents multiple commands from running at the same
// time"). Transport I/O (9P connections, console lines) still runs on
// its own per-connection goroutine; the root task submits its worker,
// gpu, lifecycle, bind and mount mutations to the Pump as closures. The
// worker, gpu and lifecycle tables and the provider tree also guard
// their own state with mutexes.
package pump

import (
	"context"
	"time"
)

// Pump drains a buffered channel of closures on a single goroutine.
type Pump struct {
	cmds chan func()
	done chan struct{}
}

// New allocates a Pump with the given submission buffer depth.
func New(buffer int) *Pump {
	return &Pump{
		cmds: make(chan func(), buffer),
		done: make(chan struct{}),
	}
}

// Run drains submitted closures until ctx is cancelled. It must be
// called from exactly one goroutine, the pump's owner.
func (p *Pump) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-p.cmds:
			fn()
		}
	}
}

// Submit hands fn to the owner goroutine and blocks until it has run,
// returning the function's result through the closure's own captured
// variables. Callers that need a return value close over a local.
func (p *Pump) Submit(fn func()) {
	done := make(chan struct{})
	p.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// SubmitErr is a convenience for the common case of a closure that
// returns only an error.
func (p *Pump) SubmitErr(fn func() error) error {
	var err error
	p.Submit(func() { err = fn() })
	return err
}

// Ticker submits fn to the pump once per interval until ctx is
// cancelled, driving worker/gpu/lifecycle tick advancement without any
// of those packages needing their own goroutine or lock (spec §4.5
// bootstrap step 5: "Configure a periodic timer").
func (p *Pump) Ticker(ctx context.Context, interval time.Duration, fn func()) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Submit(fn)
		}
	}
}

// Wait blocks until Run has returned.
func (p *Pump) Wait() {
	<-p.done
}
