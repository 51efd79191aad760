package audit

import (
	"strings"
	"testing"

	"github.com/lukeb-aidev/cohesix-sub003/internal/bounded"
)

func TestAppendFormatsAllFields(t *testing.T) {
	s := NewSink(bounded.NewClock(), 4096)
	l := s.Append("queen", "spawn", "/worker/worker-1", "ok", "cold-start")

	if l.Subject != "queen" || l.Verb != "spawn" || l.Path != "/worker/worker-1" || l.Result != "ok" || l.Reason != "cold-start" {
		t.Fatalf("unexpected line: %+v", l)
	}

	text := l.Format()
	for _, want := range []string{"subject=queen", "verb=spawn", "path=/worker/worker-1", "result=ok", "reason=cold-start"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

func TestAppendOmitsEmptyOptionalFields(t *testing.T) {
	s := NewSink(bounded.NewClock(), 4096)
	l := s.Append("queen", "lifecycle", "", "", "")
	text := l.Format()
	if strings.Contains(text, "path=") || strings.Contains(text, "result=") || strings.Contains(text, "reason=") {
		t.Fatalf("expected empty optional fields to be omitted, got %q", text)
	}
}

func TestBytesRetainsAppendedLines(t *testing.T) {
	s := NewSink(bounded.NewClock(), 4096)
	s.Append("queen", "bind", "/mnt/x", "ok", "")
	s.Append("queen", "mount", "/mnt/y", "ok", "")

	got := string(s.Bytes())
	if !strings.Contains(got, "verb=bind") || !strings.Contains(got, "verb=mount") {
		t.Fatalf("expected both lines retained, got %q", got)
	}
}

func TestSubscribeReceivesSubsequentLinesOnly(t *testing.T) {
	s := NewSink(bounded.NewClock(), 4096)
	s.Append("queen", "spawn", "/worker/worker-1", "ok", "")

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.Append("queen", "kill", "/worker/worker-1", "ok", "")

	select {
	case line := <-ch:
		if !strings.Contains(line, "verb=kill") {
			t.Fatalf("expected the kill line, got %q", line)
		}
	default:
		t.Fatal("expected a line to be available on the subscription channel")
	}
}

func TestOnAppendHookFires(t *testing.T) {
	s := NewSink(bounded.NewClock(), 4096)
	var seen []string
	s.OnAppend = func(text string) { seen = append(seen, text) }

	s.Append("queen", "lease", "/gpu/gpu-0", "ok", "")

	if len(seen) != 1 {
		t.Fatalf("expected exactly 1 mirrored line, got %d", len(seen))
	}
	if !strings.Contains(seen[0], "verb=lease") {
		t.Fatalf("unexpected mirrored line: %q", seen[0])
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := NewSink(bounded.NewClock(), 4096)
	ch, unsubscribe := s.Subscribe()
	unsubscribe()

	s.Append("queen", "spawn", "/worker/worker-1", "ok", "")

	select {
	case line, ok := <-ch:
		if ok {
			t.Fatalf("expected channel closed after unsubscribe, got line %q", line)
		}
	default:
		t.Fatal("expected the channel to be closed after unsubscribe")
	}
}
