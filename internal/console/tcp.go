package console

import (
	"bufio"
	"net"
	"time"

	"golang.org/x/net/netutil"
)

// DefaultTCPPort is the manifest-configurable TCP console port (spec
// §4.6, §6).
const DefaultTCPPort = 31337

// pingInterval/pongGrace implement the 15 s keep-alive spec §4.6
// describes: a peer silent for more than three intervals is cut with
// reason=heartbeat.
const (
	pingInterval = 15 * time.Second
	pongGrace    = 3 * pingInterval
)

// TCPConsole serves the console grammar over a rate-limited TCP
// listener (spec §4.6: "Uses the in-VM NIC ... only for this
// listener").
type TCPConsole struct {
	h        *Handler
	ln       net.Listener
	maxConns int
}

// NewTCPConsole wraps ln with a connection-count limiter the way the
// teacher's own TCP listeners bound concurrent peers via
// golang.org/x/net/netutil.
func NewTCPConsole(h *Handler, ln net.Listener, maxConns int) *TCPConsole {
	if maxConns <= 0 {
		maxConns = 64
	}
	return &TCPConsole{h: h, ln: netutil.LimitListener(ln, maxConns), maxConns: maxConns}
}

// Serve accepts connections until the listener is closed, running one
// goroutine per peer; each peer's own state is owned solely by that
// goroutine, which only ever reaches shared state (tickets, the
// provider tree, the root task) through Handler's own synchronization.
func (t *TCPConsole) Serve() error {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return err
		}
		go t.serveConn(conn)
	}
}

func (t *TCPConsole) serveConn(conn net.Conn) {
	defer conn.Close()

	ps := &PeerSession{PeerID: conn.RemoteAddr().String(), IsTCP: true}
	lines := scanLines(conn)
	w := bufio.NewWriter(conn)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	lastActive := time.Now()

	for {
		select {
		case raw, ok := <-lines:
			if !ok {
				if ps.Nine != nil {
					ps.Nine.ClunkAll()
				}
				return
			}
			lastActive = time.Now()

			if string(raw) == "PONG" {
				continue
			}
			if t.h.Limiter.Blocked(ps.PeerID) {
				continue
			}

			cmd, err := Parse(raw)
			if err != nil {
				writeLine(w, FormatErr("ctl", err))
				w.Flush()
				continue
			}

			resp := t.h.Dispatch(ps, cmd)
			writeLine(w, resp.Ack)
			for _, p := range resp.Payload {
				writeLine(w, p)
			}
			if resp.Stream != nil {
				streamUntilClunk(resp.Stream, w)
				if resp.StreamCancel != nil {
					resp.StreamCancel()
				}
			}
			if len(resp.Payload) > 0 || resp.Stream != nil {
				writeLine(w, End)
			}
			w.Flush()

			if resp.Quit {
				if ps.Nine != nil {
					ps.Nine.ClunkAll()
				}
				return
			}

		case <-ticker.C:
			if time.Since(lastActive) > pongGrace {
				if t.h.Audit != nil {
					subject := "unknown"
					if ps.Nine != nil {
						subject = ps.Nine.Ticket.ID.Short()
					}
					t.h.Audit.Append(subject, "detach", "", "deny", "heartbeat")
				}
				if ps.Nine != nil {
					ps.Nine.ClunkAll()
				}
				return
			}
			writeLine(w, "PING")
			w.Flush()
		}
	}
}
