// Package secure9p implements the constrained 9P2000.L subset described
// in spec §4.1: {version, attach, walk, open, read, write, clunk, stat}.
// Tremove and Tauth are recognised only so they can be rejected with
// EPERM. Messages use the 9P2000 type numbers and [size][type][tag]
// framing, but some bodies are Secure9P's own (Tattach carries a 32-byte
// ticket; Rstat carries a flattened StatInfo), so stock 9P tooling cannot
// speak it unmodified.
package secure9p

// Message types, numbered the same as 9P2000.L so the framing stays
// compatible with generic 9P tooling even though only a subset is
// accepted.
const (
	Tversion = 100
	Rversion = 101
	Tauth    = 102
	Rauth    = 103
	Tattach  = 104
	Rattach  = 105
	Rerror   = 107
	Twalk    = 110
	Rwalk    = 111
	Topen    = 112
	Ropen    = 113
	Tread    = 116
	Rread    = 117
	Twrite   = 118
	Rwrite   = 119
	Tclunk   = 120
	Rclunk   = 121
	Tremove  = 122
	Rremove  = 123
	Tstat    = 124
	Rstat    = 125
)

// NoTag is the distinguished tag used only on Tversion/Rversion.
const NoTag uint16 = 0xffff

// NoFid is the distinguished fid value meaning "no fid" (used for afid
// on attach, which Secure9P always rejects since Tauth is disabled).
const NoFid uint32 = 0xffffffff

// MaxMsize is the hard ceiling on negotiated message size (spec §4.1).
const MaxMsize = 8192

// MaxWalkElements is the hard ceiling on a single Twalk's element count
// (spec §4.1, §8).
const MaxWalkElements = 8

// HeaderBytes is the fixed framing overhead before a message's body:
// [size:4][type:1][tag:2].
const HeaderBytes = 7

// QidType distinguishes directories from the three "file" node kinds at
// the 9P wire level; the richer Kind lives in the provider package.
type QidType uint8

const (
	QTDIR    QidType = 0x80
	QTAPPEND QidType = 0x40
	QTFILE   QidType = 0x00
)

// Qid is the 9P2000.L qid: a stable per-boot identifier plus a version
// counter that increments on every observable mutation (spec §3 Node).
type Qid struct {
	Type    QidType
	Version uint32
	Path    uint64
}
