package console

import (
	"bufio"
	"io"
	"strings"
)

// runLoop is the serial transport's line loop: read a line, enforce the
// rate limiter before it ever reaches the parser, dispatch, write the
// ack/payload/END. lines come pre-split by the caller's scanner.
// TCPConsole.serveConn runs its own loop over the same scanLines, Parse
// and Handler.Dispatch, adding PING/PONG liveness; it does not call
// CheckTransport (spec §4.6: "Both consoles share a parser").
func runLoop(h *Handler, ps *PeerSession, lines <-chan []byte, out io.Writer) {
	w := bufio.NewWriter(out)
	defer w.Flush()

	for raw := range lines {
		if h.Limiter.Blocked(ps.PeerID) {
			// blocked peers never reach the parser (spec §4.6/§8).
			continue
		}

		cmd, err := Parse(raw)
		if err != nil {
			writeLine(w, FormatErr("ctl", err))
			continue
		}
		if err := CheckTransport(cmd.Verb, ps.IsTCP); err != nil {
			writeLine(w, FormatErr(cmd.Verb, err))
			continue
		}

		resp := h.Dispatch(ps, cmd)
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
			return
		}
	}
}

func streamUntilClunk(stream <-chan string, w *bufio.Writer) {
	for line := range stream {
		writeLine(w, line)
		w.Flush()
	}
}

func writeLine(w *bufio.Writer, line string) {
	w.WriteString(line)
	w.WriteString("\n")
}

// scanLines reads newline-terminated console lines off r into a channel,
// closing it on EOF or read error. Lines over 128 bytes (spec §4.6) but
// within the scanner's 4096-byte limit are delivered whole so Parse can
// reject them with EINVAL; a line longer than 4096 bytes ends the scan
// and closes the channel.
func scanLines(r io.Reader) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 256), 4096)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			out <- []byte(line)
		}
	}()
	return out
}
