package console

import "io"

// Serial drives the console grammar over the PL011 UART (spec §4.5
// bootstrap step 4, §4.6: "identical grammar to TCP console, minus
// TCP-only verbs"). The root task owns the single UART; Serial is its
// sole consumer.
type Serial struct {
	h  *Handler
	rw io.ReadWriter
}

// NewSerial binds the shared handler to a UART-like byte stream. rw is
// whatever the root task's device mapping exposes for the PL011 MMIO
// frame; tests substitute a pty pair (github.com/kr/pty).
func NewSerial(h *Handler, rw io.ReadWriter) *Serial {
	return &Serial{h: h, rw: rw}
}

// Run services the UART until rw is closed or EOF. There is exactly one
// serial peer, identified by the fixed string "serial" for rate-limiting
// purposes.
func (s *Serial) Run() {
	ps := &PeerSession{PeerID: "serial", IsTCP: false}
	runLoop(s.h, ps, scanLines(s.rw), s.rw)
}
