// Package ninedoor binds a byte transport to the Secure9P codec,
// per-attach session state, and the policy-enforced provider tree (spec
// §4.5 component C6: "binds a transport to Secure9P codec + session
// state + provider tree + policy"). NineDoor exclusively owns session
// and fid state; providers own their own node trees; transports own
// bytes only (spec §3 Ownership).
package ninedoor

import (
	"io"

	"github.com/lukeb-aidev/cohesix-sub003/internal/audit"
	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ctl"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ninesession"
	"github.com/lukeb-aidev/cohesix-sub003/internal/provider"
	"github.com/lukeb-aidev/cohesix-sub003/internal/secure9p"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

// CtlPath is the one write path NineDoor special-cases: writes to it
// are parsed as /queen/ctl JSON-lines commands (spec §4.3) instead of
// being appended verbatim to a plain provider node.
const CtlPath = "/queen/ctl"

// Server is the root task's sole NineDoor instance: one provider tree
// and ticket table shared by every connection it serves.
type Server struct {
	Root    provider.Node
	Tickets *ticket.Table
	Audit   *audit.Sink
	Ctl     *ctl.Dispatcher // optional; nil disables /queen/ctl command routing
}

// NewServer builds a NineDoor server over root, validating attaches
// against tickets and appending a line to audit for every side effect.
// If rootTask is non-nil, writes to CtlPath are routed through
// a ctl.Dispatcher instead of being appended to the node verbatim.
func NewServer(root provider.Node, tickets *ticket.Table, auditSink *audit.Sink, rootTask ctl.RootTask) *Server {
	s := &Server{Root: root, Tickets: tickets, Audit: auditSink}
	if rootTask != nil {
		s.Ctl = ctl.NewDispatcher(rootTask)
	}
	return s
}

// conn is the per-connection state NineDoor owns: the negotiated msize
// and, once attached, the bound session. deferred holds a side effect
// that must run only after the frame acknowledging it has been
// committed to the transport (spec §4.3, §4.5 ordering guarantee: "ack
// → perform → audit").
type conn struct {
	srv      *Server
	rw       io.ReadWriteCloser
	msize    uint32
	session  *ninesession.Session
	deferred func()
}

// Serve drives one Secure9P connection until transport close or a fatal
// read error, processing frames strictly in arrival order (spec §4.5
// ordering guarantees).
func (s *Server) Serve(rw io.ReadWriteCloser) error {
	c := &conn{srv: s, rw: rw, msize: secure9p.MaxMsize}
	defer func() {
		if c.session != nil {
			c.session.ClunkAll()
		}
		rw.Close()
	}()

	for {
		raw, err := secure9p.ReadFrame(rw, c.msize)
		if err == secure9p.ErrOversizeFrame {
			enc, _ := secure9p.EncodeRerror(secure9p.NoTag, string(coherr.EINVAL))
			secure9p.WriteFrame(rw, enc)
			continue
		}
		if err != nil {
			return err
		}

		frame, err := secure9p.Decode(raw)
		if err != nil {
			enc, _ := secure9p.EncodeRerror(secure9p.NoTag, string(coherr.EINVAL))
			secure9p.WriteFrame(rw, enc)
			continue
		}

		resp := c.dispatch(frame)
		if err := secure9p.WriteFrame(rw, resp); err != nil {
			return err
		}
		if c.deferred != nil {
			d := c.deferred
			c.deferred = nil
			d()
		}
	}
}

func (c *conn) rerror(tag uint16, err error) []byte {
	enc, _ := secure9p.Encode(secure9p.Frame{Type: secure9p.Rerror, Tag: tag, Body: secure9p.RerrorBody{Ename: string(coherr.TagOf(err))}})
	return enc
}

func (c *conn) dispatch(f secure9p.Frame) []byte {
	switch f.Type {
	case secure9p.Tversion:
		return c.handleVersion(f)
	case secure9p.Tattach:
		return c.handleAttach(f)
	case secure9p.Twalk:
		return c.handleWalk(f)
	case secure9p.Topen:
		return c.handleOpen(f)
	case secure9p.Tread:
		return c.handleRead(f)
	case secure9p.Twrite:
		return c.handleWrite(f)
	case secure9p.Tclunk:
		return c.handleClunk(f)
	case secure9p.Tstat:
		return c.handleStat(f)
	case secure9p.Tremove, secure9p.Tauth:
		return c.rerror(f.Tag, coherr.New(coherr.EPERM, "remove/auth are disabled"))
	default:
		return c.rerror(f.Tag, coherr.New(coherr.EINVAL, "unsupported message type %d", f.Type))
	}
}

func (c *conn) handleVersion(f secure9p.Frame) []byte {
	b := f.Body.(secure9p.TversionBody)
	msize := b.Msize
	if msize > secure9p.MaxMsize {
		msize = secure9p.MaxMsize
	}
	c.msize = msize
	enc, _ := secure9p.Encode(secure9p.Frame{Type: secure9p.Rversion, Tag: secure9p.NoTag, Body: secure9p.RversionBody{Msize: msize, Version: "9P2000.L"}})
	return enc
}

func (c *conn) handleAttach(f secure9p.Frame) []byte {
	b := f.Body.(secure9p.TattachBody)

	tk, err := c.srv.Tickets.Lookup(ticket.ID(b.Ticket))
	if err != nil {
		c.auditDeny("", "attach", "", err)
		return c.rerror(f.Tag, err)
	}

	ses := ninesession.New(tk, c.msize, "", "")
	root, err := provider.WalkPath(c.srv.Root, "/")
	if err != nil {
		return c.rerror(f.Tag, err)
	}
	fid, err := ses.NewFid(b.Fid, "/")
	if err != nil {
		return c.rerror(f.Tag, err)
	}
	fid.Node = root
	c.session = ses

	c.audit(tk, "attach", "/", "allow", "")
	enc, _ := secure9p.Encode(secure9p.Frame{Type: secure9p.Rattach, Tag: f.Tag, Body: secure9p.RattachBody{Qid: root.Qid()}})
	return enc
}

func (c *conn) handleWalk(f secure9p.Frame) []byte {
	b := f.Body.(secure9p.TwalkBody)
	if c.session == nil {
		return c.rerror(f.Tag, coherr.New(coherr.EPERM, "walk before attach"))
	}
	if len(b.Wname) > secure9p.MaxWalkElements {
		return c.rerror(f.Tag, coherr.New(coherr.EINVAL, "walk exceeds %d elements", secure9p.MaxWalkElements))
	}

	old, err := c.session.GetFid(b.Fid)
	if err != nil {
		return c.rerror(f.Tag, err)
	}

	cur := old.Node
	qids := make([]secure9p.Qid, 0, len(b.Wname))
	for i, elem := range b.Wname {
		if elem == ".." {
			if i == 0 {
				return c.rerror(f.Tag, coherr.New(coherr.EINVAL, "walk element .. is not permitted"))
			}
			break
		}
		next, err := cur.Walk(elem)
		if err != nil {
			if i == 0 {
				return c.rerror(f.Tag, err)
			}
			break
		}
		qids = append(qids, next.Qid())
		cur = next
	}

	if b.Newfid != b.Fid {
		nf, err := c.session.NewFid(b.Newfid, old.Path+"/"+joinWname(b.Wname, len(qids)))
		if err != nil {
			return c.rerror(f.Tag, err)
		}
		nf.Node = cur
	} else {
		old.Node = cur
	}

	enc, _ := secure9p.Encode(secure9p.Frame{Type: secure9p.Rwalk, Tag: f.Tag, Body: secure9p.RwalkBody{Wqid: qids}})
	return enc
}

func joinWname(wname []string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if out != "" {
			out += "/"
		}
		out += wname[i]
	}
	return out
}

func (c *conn) handleOpen(f secure9p.Frame) []byte {
	b := f.Body.(secure9p.TopenBody)
	if c.session == nil {
		return c.rerror(f.Tag, coherr.New(coherr.EPERM, "open before attach"))
	}
	fid, err := c.session.GetFid(b.Fid)
	if err != nil {
		return c.rerror(f.Tag, err)
	}

	mode := provider.ModeRead
	if b.Mode&1 != 0 {
		mode = provider.ModeWrite
	}
	if err := fid.Node.Open(c.session.Ticket.Role, mode); err != nil {
		c.auditDeny(c.session.Ticket.ID.Short(), "open", fid.Path, err)
		return c.rerror(f.Tag, err)
	}
	if mode == provider.ModeWrite {
		fid.Mode = ninesession.FidAppend
	} else {
		fid.Mode = ninesession.FidRead
	}

	enc, _ := secure9p.Encode(secure9p.Frame{Type: secure9p.Ropen, Tag: f.Tag, Body: secure9p.RopenBody{Qid: fid.Node.Qid(), Iounit: c.msize - secure9p.HeaderBytes}})
	return enc
}

func (c *conn) handleRead(f secure9p.Frame) []byte {
	b := f.Body.(secure9p.TreadBody)
	if c.session == nil {
		return c.rerror(f.Tag, coherr.New(coherr.EPERM, "read before attach"))
	}
	fid, err := c.session.GetFid(b.Fid)
	if err != nil {
		return c.rerror(f.Tag, err)
	}
	if fid.Mode == ninesession.FidClosed {
		return c.rerror(f.Tag, coherr.New(coherr.EINVAL, "fid %d not open", b.Fid))
	}

	count := b.Count
	if max := c.msize - secure9p.HeaderBytes; count > max {
		count = max
	}
	buf := make([]byte, count)
	n, err := fid.Node.Read(b.Offset, buf)
	if err != nil {
		return c.rerror(f.Tag, err)
	}
	c.session.AddBytesOut(n)

	enc, _ := secure9p.Encode(secure9p.Frame{Type: secure9p.Rread, Tag: f.Tag, Body: secure9p.RreadBody{Data: buf[:n]}})
	return enc
}

func (c *conn) handleWrite(f secure9p.Frame) []byte {
	b := f.Body.(secure9p.TwriteBody)
	if c.session == nil {
		return c.rerror(f.Tag, coherr.New(coherr.EPERM, "write before attach"))
	}
	fid, err := c.session.GetFid(b.Fid)
	if err != nil {
		return c.rerror(f.Tag, err)
	}
	if fid.Mode != ninesession.FidAppend {
		return c.rerror(f.Tag, coherr.New(coherr.EINVAL, "fid %d not open for write", b.Fid))
	}

	if c.srv.Ctl != nil && fid.Path == CtlPath {
		return c.handleCtlWrite(f, fid, b.Data)
	}

	n, err := fid.Node.Write(b.Data)
	if err != nil {
		c.auditDeny(c.session.Ticket.ID.Short(), "write", fid.Path, err)
		return c.rerror(f.Tag, err)
	}
	c.session.AddBytesIn(n)
	c.audit(c.session.Ticket, "write", fid.Path, "allow", "")

	enc, _ := secure9p.Encode(secure9p.Frame{Type: secure9p.Rwrite, Tag: f.Tag, Body: secure9p.RwriteBody{Count: uint32(n)}})
	return enc
}

// handleCtlWrite validates and dispatches one /queen/ctl JSON-lines
// command (spec §4.3). It is synchronous up through validation; the
// command's side effect is deferred to run only once the Rwrite frame
// acknowledging this write has been committed to the transport (spec
// §4.3: "order is acknowledgement → perform → audit").
func (c *conn) handleCtlWrite(f secure9p.Frame, fid *ninesession.Fid, data []byte) []byte {
	result, err := c.srv.Ctl.Handle(c.session, data)
	if err != nil {
		c.auditDeny(c.session.Ticket.ID.Short(), ctl.Verb(err), fid.Path, err)
		return c.rerror(f.Tag, err)
	}

	if _, err := fid.Node.Write(data); err != nil {
		c.auditDeny(c.session.Ticket.ID.Short(), result.Verb, fid.Path, err)
		return c.rerror(f.Tag, err)
	}
	c.session.AddBytesIn(len(data))

	perform := result.Perform
	tk := c.session.Ticket
	path := fid.Path
	c.deferred = func() {
		if perform != nil {
			if err := perform(); err != nil {
				c.auditDeny(tk.ID.Short(), result.Verb, path, err)
				return
			}
		}
		c.audit(tk, result.Verb, path, "allow", "")
	}

	enc, _ := secure9p.Encode(secure9p.Frame{Type: secure9p.Rwrite, Tag: f.Tag, Body: secure9p.RwriteBody{Count: uint32(len(data))}})
	return enc
}

func (c *conn) handleClunk(f secure9p.Frame) []byte {
	b := f.Body.(secure9p.TclunkBody)
	if c.session == nil {
		return c.rerror(f.Tag, coherr.New(coherr.EPERM, "clunk before attach"))
	}
	if err := c.session.Clunk(b.Fid); err != nil {
		return c.rerror(f.Tag, err)
	}
	enc, _ := secure9p.Encode(secure9p.Frame{Type: secure9p.Rclunk, Tag: f.Tag, Body: secure9p.RclunkBody{}})
	return enc
}

func (c *conn) handleStat(f secure9p.Frame) []byte {
	b := f.Body.(secure9p.TstatBody)
	if c.session == nil {
		return c.rerror(f.Tag, coherr.New(coherr.EPERM, "stat before attach"))
	}
	fid, err := c.session.GetFid(b.Fid)
	if err != nil {
		return c.rerror(f.Tag, err)
	}
	enc, _ := secure9p.Encode(secure9p.Frame{Type: secure9p.Rstat, Tag: f.Tag, Body: secure9p.RstatBody{Stat: fid.Node.Stat()}})
	return enc
}

func (c *conn) audit(tk *ticket.Ticket, verb, path, result, reason string) {
	if c.srv.Audit == nil {
		return
	}
	c.srv.Audit.Append(tk.ID.Short(), verb, path, result, reason)
}

func (c *conn) auditDeny(subject, verb, path string, err error) {
	if c.srv.Audit == nil {
		return
	}
	c.srv.Audit.Append(subject, verb, path, "deny", string(coherr.TagOf(err)))
}
