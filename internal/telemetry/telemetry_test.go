package telemetry

import (
	"bytes"
	"testing"

	"github.com/lukeb-aidev/cohesix-sub003/internal/provider"
)

func newTestDevice(id string) *Device {
	var qid uint64
	return NewDevice(id, &qid, func(name string, qidPath uint64) *provider.RegAppend {
		return provider.NewRegAppend(name, qidPath, SegmentBytes, provider.AllowAll)
	})
}

func TestAppendOpensFirstSegment(t *testing.T) {
	d := newTestDevice("dev-1")
	seg, err := d.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seg.ID != "seg-000001" {
		t.Fatalf("expected seg-000001, got %s", seg.ID)
	}
	if d.Latest() != "seg-000001" {
		t.Fatalf("expected latest to be seg-000001, got %s", d.Latest())
	}
}

func TestAppendRollsOverAtSegmentCap(t *testing.T) {
	d := newTestDevice("dev-2")
	d.Append(bytes.Repeat([]byte("a"), SegmentBytes-1))
	seg2, err := d.Append([]byte("bb"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seg2.ID != "seg-000002" {
		t.Fatalf("expected rollover to seg-000002, got %s", seg2.ID)
	}
}

func TestDeviceEvictsOldestBeyondFourSegments(t *testing.T) {
	d := newTestDevice("dev-3")
	for i := 0; i < MaxSegmentsPerDevice+1; i++ {
		d.Append(bytes.Repeat([]byte("x"), SegmentBytes))
	}
	segs := d.Segments()
	if len(segs) != MaxSegmentsPerDevice {
		t.Fatalf("expected %d retained segments, got %d", MaxSegmentsPerDevice, len(segs))
	}
	if segs[0].ID != "seg-000002" {
		t.Fatalf("expected oldest segment evicted, first retained is %s", segs[0].ID)
	}
}

func TestAppendRejectsOversizeWrite(t *testing.T) {
	d := newTestDevice("dev-4")
	if _, err := d.Append(bytes.Repeat([]byte("x"), SegmentBytes+1)); err == nil {
		t.Fatal("expected ELIMIT for a write exceeding segment capacity")
	}
}
