package secure9p

import (
	"bytes"
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	raw, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestVersionRoundTrip(t *testing.T) {
	f := Frame{Type: Tversion, Tag: NoTag, Body: TversionBody{Msize: 8192, Version: "9P2000.L"}}
	got := roundTrip(t, f)
	if got.Type != Tversion || got.Tag != NoTag {
		t.Fatalf("header mismatch: %+v", got)
	}
	body := got.Body.(TversionBody)
	if body.Msize != 8192 || body.Version != "9P2000.L" {
		t.Fatalf("body mismatch: %+v", body)
	}
}

func TestWalkRoundTrip(t *testing.T) {
	f := Frame{Type: Twalk, Tag: 7, Body: TwalkBody{Fid: 1, Newfid: 2, Wname: []string{"queen", "ctl"}}}
	got := roundTrip(t, f)
	body := got.Body.(TwalkBody)
	if !reflect.DeepEqual(body.Wname, []string{"queen", "ctl"}) {
		t.Fatalf("wname mismatch: %+v", body)
	}
}

func TestWriteRoundTripWithBinaryPayload(t *testing.T) {
	data := []byte{0x00, 0xff, 0x10, 0x20}
	f := Frame{Type: Twrite, Tag: 3, Body: TwriteBody{Fid: 4, Offset: 128, Data: data}}
	got := roundTrip(t, f)
	body := got.Body.(TwriteBody)
	if !bytes.Equal(body.Data, data) || body.Offset != 128 {
		t.Fatalf("body mismatch: %+v", body)
	}
}

func TestRerrorRoundTrip(t *testing.T) {
	f := Frame{Type: Rerror, Tag: 9, Body: RerrorBody{Ename: "EPERM"}}
	got := roundTrip(t, f)
	body := got.Body.(RerrorBody)
	if body.Ename != "EPERM" {
		t.Fatalf("ename = %q, want EPERM", body.Ename)
	}
}

func TestDecodeRejectsSizeMismatch(t *testing.T) {
	f := Frame{Type: Tclunk, Tag: 1, Body: TclunkBody{Fid: 1}}
	raw, _ := Encode(f)
	raw = append(raw, 0xff) // size field now disagrees with actual length
	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestReadFrameRefusesOversizeBeforeAllocation(t *testing.T) {
	f := Frame{Type: Twrite, Tag: 1, Body: TwriteBody{Fid: 1, Offset: 0, Data: make([]byte, 1000)}}
	raw, _ := Encode(f)

	buf := bytes.NewReader(raw)
	_, err := ReadFrame(buf, 64) // msize far smaller than the frame
	if err != ErrOversizeFrame {
		t.Fatalf("err = %v, want ErrOversizeFrame", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected oversize frame to be fully drained, %d bytes remain", buf.Len())
	}
}

func TestReadFrameAcceptsWithinMsize(t *testing.T) {
	f := Frame{Type: Tclunk, Tag: 1, Body: TclunkBody{Fid: 1}}
	raw, _ := Encode(f)

	buf := bytes.NewReader(raw)
	got, err := ReadFrame(buf, MaxMsize)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("frame bytes mismatch")
	}
}
