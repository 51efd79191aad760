package ninedoor

import (
	"net"
	"testing"

	"github.com/lukeb-aidev/cohesix-sub003/internal/provider"
	"github.com/lukeb-aidev/cohesix-sub003/internal/secure9p"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

func buildTestTree() provider.Node {
	root := provider.NewDir("/", 0, provider.AllowAll)
	proc := provider.NewDir("proc", 1, provider.AllowAll)
	proc.Add("boot", provider.NewRegRO("boot", 2, func() []byte { return []byte("booted") }))
	root.Add("proc", proc)
	return root
}

func writeAndRead(t *testing.T, conn net.Conn, f secure9p.Frame) secure9p.Frame {
	t.Helper()
	enc, err := secure9p.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := secure9p.WriteFrame(conn, enc); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := secure9p.ReadFrame(conn, secure9p.MaxMsize)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	resp, err := secure9p.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestNineDoorVersionAttachWalkOpenRead(t *testing.T) {
	tickets := ticket.NewTable()
	tk := tickets.Mint(ticket.RoleQueen, "queen", nil, ticket.Quota{})

	srv := NewServer(buildTestTree(), tickets, nil, nil)
	client, server := net.Pipe()
	defer client.Close()

	go srv.Serve(server)

	v := writeAndRead(t, client, secure9p.Frame{Type: secure9p.Tversion, Tag: secure9p.NoTag, Body: secure9p.TversionBody{Msize: 8192, Version: "9P2000.L"}})
	if v.Type != secure9p.Rversion {
		t.Fatalf("expected Rversion, got type %d", v.Type)
	}

	a := writeAndRead(t, client, secure9p.Frame{Type: secure9p.Tattach, Tag: 1, Body: secure9p.TattachBody{Fid: 0, Afid: secure9p.NoFid, Uname: "queen", Aname: "/", Ticket: tk.ID}})
	if a.Type != secure9p.Rattach {
		rb := a.Body.(secure9p.RerrorBody)
		t.Fatalf("expected Rattach, got Rerror %s", rb.Ename)
	}

	w := writeAndRead(t, client, secure9p.Frame{Type: secure9p.Twalk, Tag: 2, Body: secure9p.TwalkBody{Fid: 0, Newfid: 1, Wname: []string{"proc", "boot"}}})
	if w.Type != secure9p.Rwalk {
		rb := w.Body.(secure9p.RerrorBody)
		t.Fatalf("expected Rwalk, got Rerror %s", rb.Ename)
	}
	wb := w.Body.(secure9p.RwalkBody)
	if len(wb.Wqid) != 2 {
		t.Fatalf("expected 2 qids, got %d", len(wb.Wqid))
	}

	o := writeAndRead(t, client, secure9p.Frame{Type: secure9p.Topen, Tag: 3, Body: secure9p.TopenBody{Fid: 1, Mode: 0}})
	if o.Type != secure9p.Ropen {
		rb := o.Body.(secure9p.RerrorBody)
		t.Fatalf("expected Ropen, got Rerror %s", rb.Ename)
	}

	r := writeAndRead(t, client, secure9p.Frame{Type: secure9p.Tread, Tag: 4, Body: secure9p.TreadBody{Fid: 1, Offset: 0, Count: 128}})
	if r.Type != secure9p.Rread {
		rb := r.Body.(secure9p.RerrorBody)
		t.Fatalf("expected Rread, got Rerror %s", rb.Ename)
	}
	rb := r.Body.(secure9p.RreadBody)
	if string(rb.Data) != "booted" {
		t.Fatalf("expected %q, got %q", "booted", rb.Data)
	}
}

func TestNineDoorRejectsRemoveAndAuth(t *testing.T) {
	tickets := ticket.NewTable()
	srv := NewServer(buildTestTree(), tickets, nil, nil)
	client, server := net.Pipe()
	defer client.Close()
	go srv.Serve(server)

	resp := writeAndRead(t, client, secure9p.Frame{Type: secure9p.Tremove, Tag: 1, Body: secure9p.TremoveBody{Fid: 0}})
	if resp.Type != secure9p.Rerror {
		t.Fatalf("expected Rerror for Tremove, got type %d", resp.Type)
	}
	rb := resp.Body.(secure9p.RerrorBody)
	if rb.Ename != "EPERM" {
		t.Fatalf("expected EPERM, got %q", rb.Ename)
	}

	resp = writeAndRead(t, client, secure9p.Frame{Type: secure9p.Tauth, Tag: 2, Body: secure9p.TauthBody{Afid: secure9p.NoFid}})
	if resp.Type != secure9p.Rerror {
		t.Fatalf("expected Rerror for Tauth, got type %d", resp.Type)
	}
	rb = resp.Body.(secure9p.RerrorBody)
	if rb.Ename != "EPERM" {
		t.Fatalf("expected EPERM for Tauth, got %q", rb.Ename)
	}
}

func TestNineDoorAttachRejectsUnknownTicket(t *testing.T) {
	tickets := ticket.NewTable()
	srv := NewServer(buildTestTree(), tickets, nil, nil)
	client, server := net.Pipe()
	defer client.Close()
	go srv.Serve(server)

	var bogus [32]byte
	resp := writeAndRead(t, client, secure9p.Frame{Type: secure9p.Tattach, Tag: 1, Body: secure9p.TattachBody{Fid: 0, Afid: secure9p.NoFid, Uname: "x", Aname: "/", Ticket: bogus}})
	if resp.Type != secure9p.Rerror {
		t.Fatalf("expected Rerror for unknown ticket, got type %d", resp.Type)
	}
	rb := resp.Body.(secure9p.RerrorBody)
	if rb.Ename != "ENOENT" {
		t.Fatalf("expected ENOENT, got %q", rb.Ename)
	}
}
