// Package audit formats and appends the structured audit lines the root
// task writes for every side effect (spec §3 Audit line, §7 "every
// denial emits an audit line even if the ack itself was an ERR").
package audit

import (
	"fmt"
	"strings"

	"github.com/lukeb-aidev/cohesix-sub003/internal/bounded"
)

// Line is one structured audit record: pipe-free, space-separated
// key=value, always starting with ts=<ms> subject=<ticket-id-short>
// verb=<verb> (spec §6).
type Line struct {
	TSMs    int64
	Subject string
	Verb    string
	Path    string
	Result  string
	Reason  string
}

// Format renders the line in wire form.
func (l Line) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ts=%d subject=%s verb=%s", l.TSMs, l.Subject, l.Verb)
	if l.Path != "" {
		fmt.Fprintf(&b, " path=%s", l.Path)
	}
	if l.Result != "" {
		fmt.Fprintf(&b, " result=%s", l.Result)
	}
	if l.Reason != "" {
		fmt.Fprintf(&b, " reason=%s", l.Reason)
	}
	return b.String()
}

// Sink is the single append-only destination for audit lines: the
// /log/queen.log provider node. It is written by the root task only and
// may be tailed by any session (spec §3 Ownership).
type Sink struct {
	clock *bounded.Clock
	ring  *bounded.ByteRing
	subs  []chan string

	// OnAppend, if set, is called with each formatted line (trailing
	// newline included) as it is written, used to mirror the sink into
	// the /log/queen.log provider node so the line is visible over
	// Secure9P as well as to in-process readers of the sink itself.
	OnAppend func(text string)
}

// NewSink allocates a sink backed by a bounded ring of the given byte
// capacity, matching the namespace's general "bounded everything" rule.
func NewSink(clock *bounded.Clock, ringBytes int) *Sink {
	return &Sink{clock: clock, ring: bounded.NewByteRing(ringBytes)}
}

// Append writes one audit line and fans it out to any live tail
// subscribers. The line's timestamp is the shared clock's millisecond
// reading; lines appended within the same millisecond carry the same ts.
func (s *Sink) Append(subject, verb, path, result, reason string) Line {
	// the clock's same-millisecond tiebreaker is discarded; it is not
	// recorded in the line.
	ms, _ := s.clock.NowMs()
	l := Line{TSMs: ms, Subject: subject, Verb: verb, Path: path, Result: result, Reason: reason}
	text := l.Format() + "\n"
	s.ring.Write([]byte(text))

	for _, ch := range s.subs {
		select {
		case ch <- text:
		default:
			// slow subscriber; drop rather than block the pump (spec §4.5)
		}
	}
	if s.OnAppend != nil {
		s.OnAppend(text)
	}
	return l
}

// Bytes returns the full retained contents of the audit log, oldest
// first.
func (s *Sink) Bytes() []byte {
	return s.ring.Bytes()
}

// Subscribe registers a channel that receives every subsequent audit
// line as it is appended, for `tail /log/queen.log`. The returned
// function unsubscribes.
func (s *Sink) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	s.subs = append(s.subs, ch)
	return ch, func() {
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}
