package secure9p

import (
	"encoding/binary"
	"fmt"
)

// Frame is a fully decoded 9P message: [size:4][type:1][tag:2][body].
type Frame struct {
	Type uint8
	Tag  uint16
	Body interface{}
}

// --- body types, one per accepted message ---

type TversionBody struct {
	Msize   uint32
	Version string
}

type RversionBody struct {
	Msize   uint32
	Version string
}

type TattachBody struct {
	Fid    uint32
	Afid   uint32
	Uname  string
	Aname  string
	Ticket [32]byte
}

type RattachBody struct {
	Qid Qid
}

type TwalkBody struct {
	Fid    uint32
	Newfid uint32
	Wname  []string
}

type RwalkBody struct {
	Wqid []Qid
}

type TopenBody struct {
	Fid  uint32
	Mode uint8
}

type RopenBody struct {
	Qid    Qid
	Iounit uint32
}

type TreadBody struct {
	Fid    uint32
	Offset uint64
	Count  uint32
}

type RreadBody struct {
	Data []byte
}

type TwriteBody struct {
	Fid    uint32
	Offset uint64
	Data   []byte
}

type RwriteBody struct {
	Count uint32
}

type TclunkBody struct {
	Fid uint32
}

type RclunkBody struct{}

type TstatBody struct {
	Fid uint32
}

// StatInfo is the flattened directory-entry payload carried inside an
// Rstat body.
type StatInfo struct {
	Qid    Qid
	Name   string
	Length uint64
	Kind   byte // mirrors provider.Kind, kept numeric here to avoid an import cycle
}

type RstatBody struct {
	Stat StatInfo
}

type RerrorBody struct {
	Ename string // one of the coherr.Tag strings
}

type TremoveBody struct{ Fid uint32 }
type TauthBody struct{ Afid uint32 }

// --- low level byte cursor ---

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *writer) str(s string) {
	if len(s) > 0xffff {
		s = s[:0xffff]
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) qid(q Qid) {
	w.u8(uint8(q.Type))
	w.u32(q.Version)
	w.u64(q.Path)
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("secure9p: short frame reading u8")
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, fmt.Errorf("secure9p: short frame reading u16")
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("secure9p: short frame reading u32")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, fmt.Errorf("secure9p: short frame reading u64")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) str() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", fmt.Errorf("secure9p: short frame reading string")
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *reader) bytesN() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, fmt.Errorf("secure9p: short frame reading bytes")
	}
	b := make([]byte, n)
	copy(b, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return b, nil
}

func (r *reader) qid() (Qid, error) {
	t, err := r.u8()
	if err != nil {
		return Qid{}, err
	}
	v, err := r.u32()
	if err != nil {
		return Qid{}, err
	}
	p, err := r.u64()
	if err != nil {
		return Qid{}, err
	}
	return Qid{Type: QidType(t), Version: v, Path: p}, nil
}

// Encode renders a Frame as a complete wire message including the
// leading 4-byte size prefix.
func Encode(f Frame) ([]byte, error) {
	w := &writer{buf: make([]byte, 0, 64)}
	w.u32(0) // placeholder for size
	w.u8(f.Type)
	w.u16(f.Tag)

	switch b := f.Body.(type) {
	case TversionBody:
		w.u32(b.Msize)
		w.str(b.Version)
	case RversionBody:
		w.u32(b.Msize)
		w.str(b.Version)
	case TattachBody:
		w.u32(b.Fid)
		w.u32(b.Afid)
		w.str(b.Uname)
		w.str(b.Aname)
		w.buf = append(w.buf, b.Ticket[:]...)
	case RattachBody:
		w.qid(b.Qid)
	case TwalkBody:
		w.u32(b.Fid)
		w.u32(b.Newfid)
		w.u16(uint16(len(b.Wname)))
		for _, name := range b.Wname {
			w.str(name)
		}
	case RwalkBody:
		w.u16(uint16(len(b.Wqid)))
		for _, q := range b.Wqid {
			w.qid(q)
		}
	case TopenBody:
		w.u32(b.Fid)
		w.u8(b.Mode)
	case RopenBody:
		w.qid(b.Qid)
		w.u32(b.Iounit)
	case TreadBody:
		w.u32(b.Fid)
		w.u64(b.Offset)
		w.u32(b.Count)
	case RreadBody:
		w.bytes(b.Data)
	case TwriteBody:
		w.u32(b.Fid)
		w.u64(b.Offset)
		w.bytes(b.Data)
	case RwriteBody:
		w.u32(b.Count)
	case TclunkBody:
		w.u32(b.Fid)
	case RclunkBody:
		// empty
	case TstatBody:
		w.u32(b.Fid)
	case RstatBody:
		w.qid(b.Stat.Qid)
		w.str(b.Stat.Name)
		w.u64(b.Stat.Length)
		w.u8(b.Stat.Kind)
	case RerrorBody:
		w.str(b.Ename)
	case TremoveBody:
		w.u32(b.Fid)
	case TauthBody:
		w.u32(b.Afid)
	default:
		return nil, fmt.Errorf("secure9p: unknown body type %T", f.Body)
	}

	binary.LittleEndian.PutUint32(w.buf, uint32(len(w.buf)))
	return w.buf, nil
}

// Decode parses a complete wire message (including its size prefix,
// which is only used to validate framing — the caller is expected to
// have already split the byte stream on frame boundaries).
func Decode(raw []byte) (Frame, error) {
	if len(raw) < HeaderBytes {
		return Frame{}, fmt.Errorf("secure9p: frame too short")
	}
	size := binary.LittleEndian.Uint32(raw[0:4])
	if int(size) != len(raw) {
		return Frame{}, fmt.Errorf("secure9p: size field %d does not match frame length %d", size, len(raw))
	}

	r := &reader{buf: raw, off: 4}
	typ, err := r.u8()
	if err != nil {
		return Frame{}, err
	}
	tag, err := r.u16()
	if err != nil {
		return Frame{}, err
	}

	f := Frame{Type: typ, Tag: tag}

	switch typ {
	case Tversion:
		msize, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		ver, err := r.str()
		if err != nil {
			return Frame{}, err
		}
		f.Body = TversionBody{Msize: msize, Version: ver}
	case Rversion:
		msize, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		ver, err := r.str()
		if err != nil {
			return Frame{}, err
		}
		f.Body = RversionBody{Msize: msize, Version: ver}
	case Tattach:
		fid, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		afid, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		uname, err := r.str()
		if err != nil {
			return Frame{}, err
		}
		aname, err := r.str()
		if err != nil {
			return Frame{}, err
		}
		var ticket [32]byte
		if r.remaining() < 32 {
			return Frame{}, fmt.Errorf("secure9p: short Tattach ticket field")
		}
		copy(ticket[:], r.buf[r.off:r.off+32])
		r.off += 32
		f.Body = TattachBody{Fid: fid, Afid: afid, Uname: uname, Aname: aname, Ticket: ticket}
	case Rattach:
		q, err := r.qid()
		if err != nil {
			return Frame{}, err
		}
		f.Body = RattachBody{Qid: q}
	case Twalk:
		fid, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		newfid, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		n, err := r.u16()
		if err != nil {
			return Frame{}, err
		}
		names := make([]string, 0, n)
		for i := 0; i < int(n); i++ {
			s, err := r.str()
			if err != nil {
				return Frame{}, err
			}
			names = append(names, s)
		}
		f.Body = TwalkBody{Fid: fid, Newfid: newfid, Wname: names}
	case Rwalk:
		n, err := r.u16()
		if err != nil {
			return Frame{}, err
		}
		qids := make([]Qid, 0, n)
		for i := 0; i < int(n); i++ {
			q, err := r.qid()
			if err != nil {
				return Frame{}, err
			}
			qids = append(qids, q)
		}
		f.Body = RwalkBody{Wqid: qids}
	case Topen:
		fid, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		mode, err := r.u8()
		if err != nil {
			return Frame{}, err
		}
		f.Body = TopenBody{Fid: fid, Mode: mode}
	case Ropen:
		q, err := r.qid()
		if err != nil {
			return Frame{}, err
		}
		iounit, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		f.Body = RopenBody{Qid: q, Iounit: iounit}
	case Tread:
		fid, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		off, err := r.u64()
		if err != nil {
			return Frame{}, err
		}
		count, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		f.Body = TreadBody{Fid: fid, Offset: off, Count: count}
	case Rread:
		data, err := r.bytesN()
		if err != nil {
			return Frame{}, err
		}
		f.Body = RreadBody{Data: data}
	case Twrite:
		fid, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		off, err := r.u64()
		if err != nil {
			return Frame{}, err
		}
		data, err := r.bytesN()
		if err != nil {
			return Frame{}, err
		}
		f.Body = TwriteBody{Fid: fid, Offset: off, Data: data}
	case Rwrite:
		count, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		f.Body = RwriteBody{Count: count}
	case Tclunk:
		fid, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		f.Body = TclunkBody{Fid: fid}
	case Rclunk:
		f.Body = RclunkBody{}
	case Tstat:
		fid, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		f.Body = TstatBody{Fid: fid}
	case Rstat:
		q, err := r.qid()
		if err != nil {
			return Frame{}, err
		}
		name, err := r.str()
		if err != nil {
			return Frame{}, err
		}
		length, err := r.u64()
		if err != nil {
			return Frame{}, err
		}
		kind, err := r.u8()
		if err != nil {
			return Frame{}, err
		}
		f.Body = RstatBody{Stat: StatInfo{Qid: q, Name: name, Length: length, Kind: kind}}
	case Rerror:
		s, err := r.str()
		if err != nil {
			return Frame{}, err
		}
		f.Body = RerrorBody{Ename: s}
	case Tremove:
		fid, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		f.Body = TremoveBody{Fid: fid}
	case Tauth:
		afid, err := r.u32()
		if err != nil {
			return Frame{}, err
		}
		f.Body = TauthBody{Afid: afid}
	default:
		return Frame{}, fmt.Errorf("secure9p: unknown message type %d", typ)
	}

	return f, nil
}

// EncodeRerror is a convenience for building an error reply frame.
func EncodeRerror(tag uint16, ename string) ([]byte, error) {
	return Encode(Frame{Type: Rerror, Tag: tag, Body: RerrorBody{Ename: ename}})
}
