package secure9p

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ErrOversizeFrame is returned by ReadFrame when the advertised frame
// size exceeds the session's negotiated msize. Per spec §4.1 this must
// be detected before allocating a buffer for the frame body.
var ErrOversizeFrame = fmt.Errorf("secure9p: oversize frame")

// ReadFrame reads one complete length-prefixed frame from r, refusing to
// allocate a buffer for it if the advertised size exceeds msize (spec
// §4.1: "Oversize frames are refused before allocation; the connection
// is not closed"). The 4-byte size prefix itself is always read so the
// stream stays in sync; callers that get ErrOversizeFrame should surface
// EINVAL on the affected fid and keep reading.
func ReadFrame(r io.Reader, msize uint32) ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])

	if size < HeaderBytes {
		return nil, fmt.Errorf("secure9p: frame size %d smaller than header", size)
	}
	if size > msize {
		// Drain the oversize frame so the stream doesn't desync, but
		// never materialise the whole thing at once.
		if _, err := io.CopyN(io.Discard, r, int64(size-4)); err != nil {
			return nil, err
		}
		return nil, ErrOversizeFrame
	}

	buf := make([]byte, size)
	copy(buf[0:4], sizeBuf[:])
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes a pre-encoded frame (as returned by Encode) to w.
func WriteFrame(w io.Writer, frame []byte) error {
	_, err := w.Write(frame)
	return err
}
