// Package telemetry implements the bounded append-only segment model
// backing /queen/telemetry/<device>/seg/<n> (spec §3 Telemetry segment);
// /worker/<id>/telemetry is a plain append node, not a Device.
// Per-segment ≤32KiB, per-device ≤128KiB
// across ≤4 segments, oldest evicted once the device is full.
package telemetry

import (
	"fmt"
	"sync"

	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
	"github.com/lukeb-aidev/cohesix-sub003/internal/provider"
)

// SegmentBytes/MaxSegmentsPerDevice/DeviceBytes are the fixed bounds
// spec §3 declares for the telemetry segment model.
const (
	SegmentBytes         = 32 * 1024
	MaxSegmentsPerDevice = 4
	DeviceBytes          = 128 * 1024
)

// Segment is one bounded chunk of a device's telemetry stream, backed
// directly by a provider.RegAppend node so it is addressable from the
// namespace tree without copying.
type Segment struct {
	ID   string
	Node *provider.RegAppend
}

// Device owns up to MaxSegmentsPerDevice live segments for one GPU or
// worker identity, evicting the oldest once the device budget would be
// exceeded (spec §3 invariant: "oldest segment is evicted per device
// policy evict-oldest").
type Device struct {
	mu       sync.Mutex
	id       string
	segments []*Segment
	nextSeq  int
	newNode  func(name string, qidPath uint64) *provider.RegAppend
	qidArena *uint64
}

// NewDevice allocates an empty telemetry device. newNode builds the
// backing provider node for a fresh segment (so callers control the
// predicate and qid allocation the way the rest of the namespace tree
// does).
func NewDevice(id string, qidArena *uint64, newNode func(name string, qidPath uint64) *provider.RegAppend) *Device {
	return &Device{id: id, newNode: newNode, qidArena: qidArena}
}

func (d *Device) allocQid() uint64 {
	*d.qidArena++
	return *d.qidArena
}

// Append writes data to the device's current segment, opening a new one
// first if the current segment is full, nil, or would overflow its
// per-segment cap; opening a new segment evicts the oldest once the
// device already holds MaxSegmentsPerDevice (spec §3).
func (d *Device) Append(data []byte) (*Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) > SegmentBytes {
		return nil, coherr.New(coherr.ELIMIT, "telemetry write of %d bytes exceeds segment capacity %d", len(data), SegmentBytes)
	}

	cur := d.currentLocked()
	if cur == nil || len(cur.Node.Bytes())+len(data) > SegmentBytes {
		cur = d.openSegmentLocked()
	}
	if _, err := cur.Node.Write(data); err != nil {
		return nil, err
	}
	return cur, nil
}

func (d *Device) currentLocked() *Segment {
	if len(d.segments) == 0 {
		return nil
	}
	return d.segments[len(d.segments)-1]
}

func (d *Device) openSegmentLocked() *Segment {
	if len(d.segments) >= MaxSegmentsPerDevice {
		d.segments = d.segments[1:]
	}
	d.nextSeq++
	id := fmt.Sprintf("seg-%06d", d.nextSeq)
	seg := &Segment{ID: id, Node: d.newNode(id, d.allocQid())}
	d.segments = append(d.segments, seg)
	return seg
}

// Latest returns the most recently opened segment's id, or "" if the
// device has never been written to (spec §8 S3: "cat
// /queen/telemetry/dev-1/latest returns the segment id").
func (d *Device) Latest() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := d.currentLocked()
	if cur == nil {
		return ""
	}
	return cur.ID
}

// Segments returns the device's live segments, oldest first.
func (d *Device) Segments() []*Segment {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Segment, len(d.segments))
	copy(out, d.segments)
	return out
}

// TotalBytes sums the retained bytes across all live segments, which by
// construction never exceeds DeviceBytes since at most
// MaxSegmentsPerDevice segments of at most SegmentBytes each are kept.
func (d *Device) TotalBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.segments {
		n += len(s.Node.Bytes())
	}
	return n
}
