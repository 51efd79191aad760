package ninesession

import (
	"testing"

	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

func newTestSession() *Session {
	tk := &ticket.Ticket{Role: ticket.RoleQueen, Subject: "queen"}
	return New(tk, 8192, "", "")
}

func TestFidNoReuseAfterClunk(t *testing.T) {
	s := newTestSession()
	if _, err := s.NewFid(1, "/"); err != nil {
		t.Fatalf("NewFid: %v", err)
	}
	if err := s.Clunk(1); err != nil {
		t.Fatalf("Clunk: %v", err)
	}
	if _, err := s.GetFid(1); err == nil {
		t.Fatalf("expected GetFid on clunked fid to fail")
	}
}

func TestFidDuplicateRejected(t *testing.T) {
	s := newTestSession()
	if _, err := s.NewFid(1, "/"); err != nil {
		t.Fatalf("NewFid: %v", err)
	}
	if _, err := s.NewFid(1, "/"); err == nil {
		t.Fatalf("expected duplicate fid allocation to fail")
	}
}

func TestAttachThenClunkLeavesNoFids(t *testing.T) {
	s := newTestSession()
	s.NewFid(0, "/")
	s.Clunk(0)
	if s.Fids.Len() != 0 {
		t.Fatalf("expected 0 live fids, got %d", s.Fids.Len())
	}
}

func TestTagReservation(t *testing.T) {
	s := newTestSession()
	if err := s.Stats.ReserveTag(5); err != nil {
		t.Fatalf("ReserveTag: %v", err)
	}
	if err := s.Stats.ReserveTag(5); err == nil {
		t.Fatalf("expected duplicate tag reservation to fail")
	}
	s.Stats.ReleaseTag(5)
	if err := s.Stats.ReserveTag(5); err != nil {
		t.Fatalf("ReserveTag after release: %v", err)
	}
}

func TestBindDeniesAlreadyMountedDestination(t *testing.T) {
	mt := NewMountTable(ticket.RoleQueen, "", "")

	if err := mt.Bind("/a", "/mnt"); err != nil {
		t.Fatalf("bind /a /mnt: %v", err)
	}
	if err := mt.Bind("/b", "/mnt"); err == nil {
		t.Fatalf("expected rebinding an already-mounted destination to fail with EBUSY")
	}
}

func TestMsizeClampedToMax(t *testing.T) {
	tk := &ticket.Ticket{Role: ticket.RoleQueen}
	s := New(tk, 65536, "", "")
	if s.Msize != 8192 {
		t.Fatalf("Msize = %d, want clamp to 8192", s.Msize)
	}
}
