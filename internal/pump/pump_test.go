package pump

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsOnOwnerGoroutineSerially(t *testing.T) {
	p := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	var counter int64
	const n = 50
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			p.Submit(func() {
				counter++ // unsynchronized increment, only safe if truly serialized
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	if counter != n {
		t.Fatalf("expected %d, got %d", n, counter)
	}
}

func TestSubmitErrPropagatesResult(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	err := p.SubmitErr(func() error { return errBoom })
	if err != errBoom {
		t.Fatalf("expected errBoom, got %v", err)
	}
}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }

func TestTickerDrivesFnPeriodically(t *testing.T) {
	p := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	var ticks int64
	tctx, tcancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer tcancel()
	p.Ticker(tctx, 10*time.Millisecond, func() { atomic.AddInt64(&ticks, 1) })
	cancel()

	if atomic.LoadInt64(&ticks) < 2 {
		t.Fatalf("expected at least 2 ticks, got %d", ticks)
	}
}
