package console

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/kr/pty"

	"github.com/lukeb-aidev/cohesix-sub003/internal/audit"
	"github.com/lukeb-aidev/cohesix-sub003/internal/bounded"
	"github.com/lukeb-aidev/cohesix-sub003/internal/provider"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

// TestSerialOverRealPTY exercises the serial console's line parser over
// an actual pty pair rather than an in-memory pipe, the way the
// teacher's own console work (cmd/minimega/container.go) drives a real
// pseudo-terminal rather than faking tty semantics.
func TestSerialOverRealPTY(t *testing.T) {
	master, slave, err := pty.Open()
	if err != nil {
		t.Skipf("pty unavailable in this sandbox: %v", err)
	}
	defer master.Close()
	defer slave.Close()

	root := provider.NewDir("/", 0, provider.AllowAll)
	h := &Handler{
		Root:    root,
		Tickets: ticket.NewTable(),
		CtlRoot: &fakeRoot{},
		Limiter: NewAuthLimiter(),
		Audit:   audit.NewSink(bounded.NewClock(), 4096),
	}

	s := NewSerial(h, slave)
	go s.Run()

	if _, err := master.Write([]byte("attach queen\n")); err != nil {
		t.Fatalf("write to pty master: %v", err)
	}

	master.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(master)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read ack from pty: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(line), "OK ATTACH") {
		t.Fatalf("expected OK ATTACH, got %q", line)
	}
}
