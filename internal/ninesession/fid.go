package ninesession

import (
	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
	"github.com/lukeb-aidev/cohesix-sub003/internal/provider"
)

// OpenMode is the state a fid is in (spec §3 Fid: "a fid is in at most
// one open state").
type OpenMode uint8

const (
	FidClosed OpenMode = iota
	FidRead
	FidAppend
)

// Fid is a session-scoped handle on a walked path (spec §3 Fid).
type Fid struct {
	ID     uint32
	Path   string // namespace path as resolved through the session's mount table
	Node   provider.Node
	Mode   OpenMode
	Cursor uint64 // next read offset for streaming reads

	// watchCancel is set only when this fid is open on a
	// KindWatch node and a console `tail` is attached to it.
	watchCancel func()

	errored bool // set when an oversize frame targeted this fid (spec §4.1)
}

// MarkErrored flags the fid after an oversize frame addressed it; the
// fid stays allocated (the connection is not closed) but every
// subsequent operation on it fails until it is clunked.
func (f *Fid) MarkErrored() { f.errored = true }

func (f *Fid) checkUsable() error {
	if f.errored {
		return coherr.New(coherr.EINVAL, "fid %d is in an error state", f.ID)
	}
	return nil
}

// SetWatchCancel installs the cleanup hook for a live tail subscription,
// called when the fid is clunked or the transport closes.
func (f *Fid) SetWatchCancel(cancel func()) { f.watchCancel = cancel }

// Release tears down any streaming subscription held by this fid. It is
// always safe to call more than once.
func (f *Fid) Release() {
	if f.watchCancel != nil {
		f.watchCancel()
		f.watchCancel = nil
	}
}
