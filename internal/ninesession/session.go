package ninesession

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lukeb-aidev/cohesix-sub003/internal/bounded"
	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
	"github.com/lukeb-aidev/cohesix-sub003/internal/secure9p"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

// DefaultFidCapacity is the default bound on a session's fid table
// (spec §3 Session: "fid table (bounded, default 16)").
const DefaultFidCapacity = 16

// IdleTimeout is how long a session may go without activity before the
// pump destroys it (spec §3 Session lifecycle).
const IdleTimeout = 5 * time.Minute

// Stats are the per-session rate counters spec §4.4 requires: "bytes
// in, bytes out, tag occupancy, and cursor retention".
type Stats struct {
	mu         sync.Mutex
	BytesIn    uint64
	BytesOut   uint64
	tags       map[uint16]bool
	CursorsOut int
}

func newStats() *Stats { return &Stats{tags: make(map[uint16]bool)} }

// ReserveTag marks tag as in-flight, failing if it is already in use
// within this session (spec §4.1: "Tags are per-session and must be
// unique until the matching R-message is sent").
func (s *Stats) ReserveTag(tag uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tags[tag] {
		return coherr.New(coherr.EINVAL, "tag %d already in flight", tag)
	}
	s.tags[tag] = true
	return nil
}

// ReleaseTag frees tag once its R-message has been sent.
func (s *Stats) ReleaseTag(tag uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, tag)
}

func (s *Stats) addIn(n int)  { s.mu.Lock(); s.BytesIn += uint64(n); s.mu.Unlock() }
func (s *Stats) addOut(n int) { s.mu.Lock(); s.BytesOut += uint64(n); s.mu.Unlock() }

// Session is a bound Secure9P session (spec §3 Session).
type Session struct {
	ID         string
	Ticket     *ticket.Ticket
	Msize      uint32
	Mounts     *MountTable
	Fids       *bounded.SlotTable[uint32, *Fid]
	Stats      *Stats
	LastActive time.Time

	mu sync.Mutex
}

// New creates a session bound to tk, with a mount table derived from
// its role (spec §3 Session lifecycle: "created on attach").
func New(tk *ticket.Ticket, msize uint32, selfWorkerID, leasedGPU string) *Session {
	if msize > secure9p.MaxMsize {
		msize = secure9p.MaxMsize
	}
	mounts := NewMountTable(tk.Role, selfWorkerID, leasedGPU)
	if len(tk.Mounts) > 0 {
		mounts = NewMountTableFromPaths(tk.Mounts)
	}
	return &Session{
		ID:         uuid.NewString(),
		Ticket:     tk,
		Msize:      msize,
		Mounts:     mounts,
		Fids:       bounded.NewSlotTable[uint32, *Fid](DefaultFidCapacity),
		Stats:      newStats(),
		LastActive: time.Now(),
	}
}

// Touch marks the session active, resetting the idle timer.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActive = time.Now()
}

// Idle reports whether the session has been silent longer than
// IdleTimeout.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastActive) > IdleTimeout
}

// NewFid allocates a fid at id, failing with EINVAL if a fid with that
// id already exists (spec §3 Fid invariant: "no fid reuse after clunk
// within a session").
func (s *Session) NewFid(id uint32, path string) (*Fid, error) {
	if _, ok := s.Fids.Get(id); ok {
		return nil, coherr.New(coherr.EINVAL, "fid %d already in use", id)
	}
	f := &Fid{ID: id, Path: path}
	if err := s.Fids.Put(id, f); err != nil {
		return nil, coherr.New(coherr.ELIMIT, "%v", err)
	}
	return f, nil
}

// GetFid looks up an open fid, failing with EINVAL for a clunked or
// never-allocated fid id (spec §3 Fid invariant).
func (s *Session) GetFid(id uint32) (*Fid, error) {
	f, ok := s.Fids.Get(id)
	if !ok {
		return nil, coherr.New(coherr.EINVAL, "no such fid %d", id)
	}
	if err := f.checkUsable(); err != nil {
		return nil, err
	}
	return f, nil
}

// Clunk releases a fid; subsequent use of the same id fails with
// EINVAL (spec §3 Fid invariant, §8 round-trip property).
func (s *Session) Clunk(id uint32) error {
	f, ok := s.Fids.Get(id)
	if !ok {
		return coherr.New(coherr.EINVAL, "no such fid %d", id)
	}
	f.Release()
	s.Fids.Delete(id)
	return nil
}

// ClunkAll releases every fid held by the session, used on transport
// close or lifecycle cut (spec §4.8).
func (s *Session) ClunkAll() {
	for _, id := range s.Fids.Keys() {
		s.Clunk(id)
	}
}

func (s *Session) AddBytesIn(n int)  { s.Stats.addIn(n) }
func (s *Session) AddBytesOut(n int) { s.Stats.addOut(n) }
