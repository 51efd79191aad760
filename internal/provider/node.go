// Package provider implements the polymorphic node tree that makes up
// the Secure9P namespace (spec §4.2): directories, read-only regular
// files, append-only regular files, and watch-streams, each with a
// per-node access predicate rather than a shared permission bitmask.
package provider

import (
	"sort"
	"sync"

	"github.com/lukeb-aidev/cohesix-sub003/internal/bounded"
	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
	"github.com/lukeb-aidev/cohesix-sub003/internal/secure9p"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

// Kind is the tagged variant of a node (spec §9 Design Notes:
// "represent as a tagged variant rather than inheritance").
type Kind uint8

const (
	KindDir Kind = iota
	KindRegRO
	KindRegAppend
	KindWatch
)

// Mode is the access mode being checked against a node's predicate.
type Mode uint8

const (
	ModeRead Mode = iota
	ModeWrite
)

// Predicate decides whether a role may access a node in a given mode.
// Nodes with a nil predicate allow everything.
type Predicate func(role ticket.Role, mode Mode) bool

// AllowAll is the default predicate for unrestricted nodes.
func AllowAll(ticket.Role, Mode) bool { return true }

// QueenOnly restricts a node to the queen role, for any mode.
func QueenOnly(role ticket.Role, _ Mode) bool { return role == ticket.RoleQueen }

// ReadOnlyAnyRole allows reads from any role but denies all writes; it
// is the predicate regular-read-only nodes use by default.
func ReadOnlyAnyRole(_ ticket.Role, mode Mode) bool { return mode == ModeRead }

// Node is the capability set every namespace entry implements (spec
// §4.2): qid, walk, open, read, write, stat.
type Node interface {
	Qid() secure9p.Qid
	Kind() Kind
	Name() string
	// Walk resolves a single path element against a directory node.
	// Non-directory nodes always return ENOENT.
	Walk(elem string) (Node, error)
	// Open validates role access for mode before the node can be read
	// or written.
	Open(role ticket.Role, mode Mode) error
	// Read fills buf starting at offset; for append-only and watch nodes
	// the offset addresses the retained tail. Offsets are ignored only on
	// append-only writes.
	Read(offset uint64, buf []byte) (int, error)
	// Write appends p, returning ELIMIT if the write cannot be
	// satisfied in full within bounds (spec §4.1 "reject" policy).
	Write(p []byte) (int, error)
	Stat() secure9p.StatInfo
	// List returns child names for directories, nil otherwise.
	List() []string
}

// base carries the fields every node variant shares.
type base struct {
	name    string
	kind    Kind
	qid     secure9p.Qid
	pred    Predicate
	version *uint32 // shared pointer so Stat reflects live mutation count
}

func (b *base) Qid() secure9p.Qid {
	q := b.qid
	q.Version = *b.version
	return q
}

func (b *base) Kind() Kind   { return b.kind }
func (b *base) Name() string { return b.name }

func (b *base) checkAccess(role ticket.Role, mode Mode) error {
	pred := b.pred
	if pred == nil {
		pred = AllowAll
	}
	if !pred(role, mode) {
		return coherr.New(coherr.EPERM, "role %s denied mode %d on %s", role, mode, b.name)
	}
	return nil
}

func (b *base) bump() {
	*b.version++
}

// --- directory ---

// Dir is a KindDir node: a sorted set of named children.
type Dir struct {
	base
	mu        sync.RWMutex
	children  map[string]Node
	onMissing func(parent *Dir, elem string) (Node, bool)
}

// NewDir allocates a directory node with the given qid path (from the
// caller's qid Arena) and access predicate.
func NewDir(name string, qidPath uint64, pred Predicate) *Dir {
	v := uint32(0)
	return &Dir{
		base: base{
			name:    name,
			kind:    KindDir,
			qid:     secure9p.Qid{Type: secure9p.QTDIR, Path: qidPath},
			pred:    pred,
			version: &v,
		},
		children: make(map[string]Node),
	}
}

// Add installs a child under name, replacing any existing entry.
func (d *Dir) Add(name string, n Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.children[name] = n
	d.bump()
}

// Remove deletes a child by name, if present.
func (d *Dir) Remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.children[name]; ok {
		delete(d.children, name)
		d.bump()
	}
}

// OnMissing installs a hook Walk consults when elem isn't among the
// directory's current children, letting a subtree auto-vivify a child
// on first reference instead of requiring an out-of-band provisioning
// step (spec §4.2: telemetry devices and GPU subtrees are "populated"
// by a write or publish, not by a separate mkdir-style operation). The
// hook must not call back into this same Dir's Walk while building the
// child, since the lock guarding the lookup is already released by the
// time it runs but re-entering Walk for elem would simply recurse.
func (d *Dir) OnMissing(f func(parent *Dir, elem string) (Node, bool)) {
	d.onMissing = f
}

func (d *Dir) Walk(elem string) (Node, error) {
	d.mu.RLock()
	n, ok := d.children[elem]
	d.mu.RUnlock()
	if ok {
		return n, nil
	}
	if d.onMissing != nil {
		if created, ok := d.onMissing(d, elem); ok {
			return created, nil
		}
	}
	return nil, coherr.New(coherr.ENOENT, "no such entry %q", elem)
}

func (d *Dir) Open(role ticket.Role, mode Mode) error {
	return d.checkAccess(role, mode)
}

func (d *Dir) Read(offset uint64, buf []byte) (int, error) {
	return 0, coherr.New(coherr.EPERM, "cannot read a directory as a file")
}

func (d *Dir) Write(p []byte) (int, error) {
	return 0, coherr.New(coherr.EPERM, "directories are not writable")
}

func (d *Dir) Stat() secure9p.StatInfo {
	return secure9p.StatInfo{Qid: d.Qid(), Name: d.name, Kind: byte(KindDir)}
}

func (d *Dir) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.children))
	for n := range d.children {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// --- read-only regular ---

// Content produces the current bytes of a RegRO node. Static nodes
// close over a fixed slice; dynamic ones (e.g. /proc/tests/<name>)
// recompute on every read.
type Content func() []byte

// RegRO is a KindRegRO node: read-only, content supplied by a closure
// so dynamic snapshots (lifecycle state, self-test output) and static
// ones (manifest fingerprint) share one implementation.
type RegRO struct {
	base
	content Content
}

// NewRegRO allocates a read-only file whose bytes are produced by gen.
func NewRegRO(name string, qidPath uint64, gen Content) *RegRO {
	v := uint32(0)
	return &RegRO{
		base: base{
			name:    name,
			kind:    KindRegRO,
			qid:     secure9p.Qid{Type: secure9p.QTFILE, Path: qidPath},
			pred:    ReadOnlyAnyRole,
			version: &v,
		},
		content: gen,
	}
}

func (r *RegRO) Walk(string) (Node, error) {
	return nil, coherr.New(coherr.ENOENT, "%s is not a directory", r.name)
}

func (r *RegRO) Open(role ticket.Role, mode Mode) error {
	return r.checkAccess(role, mode)
}

func (r *RegRO) Read(offset uint64, buf []byte) (int, error) {
	data := r.content()
	if offset >= uint64(len(data)) {
		return 0, nil
	}
	n := copy(buf, data[offset:])
	return n, nil
}

func (r *RegRO) Write([]byte) (int, error) {
	return 0, coherr.New(coherr.EPERM, "%s is read-only", r.name)
}

func (r *RegRO) Stat() secure9p.StatInfo {
	return secure9p.StatInfo{Qid: r.Qid(), Name: r.name, Length: uint64(len(r.content())), Kind: byte(KindRegRO)}
}

func (r *RegRO) List() []string { return nil }

// --- append-only regular ---

// RegAppend is a KindRegAppend node backed by a bounded byte ring:
// writes always append regardless of the client-supplied offset (spec
// §3 Node invariant), and reads are ordinary offset-addressed reads
// over the retained tail.
type RegAppend struct {
	base
	ring    *bounded.ByteRing
	onWrite func([]byte) // optional hook, e.g. audit or fan-out to subscribers
}

// NewRegAppend allocates an append-only file bounded to capacity bytes.
func NewRegAppend(name string, qidPath uint64, capacity int, pred Predicate) *RegAppend {
	v := uint32(0)
	return &RegAppend{
		base: base{
			name:    name,
			kind:    KindRegAppend,
			qid:     secure9p.Qid{Type: secure9p.QTAPPEND, Path: qidPath},
			pred:    pred,
			version: &v,
		},
		ring: bounded.NewByteRing(capacity),
	}
}

// OnWrite installs a callback invoked with every successfully written
// chunk, used to drive audit lines and tail subscribers.
func (r *RegAppend) OnWrite(f func([]byte)) { r.onWrite = f }

func (r *RegAppend) Walk(string) (Node, error) {
	return nil, coherr.New(coherr.ENOENT, "%s is not a directory", r.name)
}

func (r *RegAppend) Open(role ticket.Role, mode Mode) error {
	return r.checkAccess(role, mode)
}

func (r *RegAppend) Read(offset uint64, buf []byte) (int, error) {
	data := r.ring.Bytes()
	if offset >= uint64(len(data)) {
		return 0, nil
	}
	n := copy(buf, data[offset:])
	return n, nil
}

// Write ignores offset entirely, per the append-only invariant. If p
// cannot be retained without overflowing the ring's per-write bound of
// its full capacity, the write fails wholesale with ELIMIT (spec §4.1
// "reject" short-write policy) rather than partially succeeding.
func (r *RegAppend) Write(p []byte) (int, error) {
	if len(p) > r.ring.Cap() {
		return 0, coherr.New(coherr.ELIMIT, "write of %d bytes exceeds node capacity %d", len(p), r.ring.Cap())
	}
	r.ring.Write(p)
	r.bump()
	if r.onWrite != nil {
		r.onWrite(p)
	}
	return len(p), nil
}

func (r *RegAppend) Stat() secure9p.StatInfo {
	return secure9p.StatInfo{Qid: r.Qid(), Name: r.name, Length: uint64(r.ring.Len()), Kind: byte(KindRegAppend)}
}

func (r *RegAppend) List() []string { return nil }

// Bytes exposes the node's retained contents directly, used by
// providers that need to inspect their own state (e.g. telemetry
// latest-segment lookups).
func (r *RegAppend) Bytes() []byte { return r.ring.Bytes() }

// --- watch stream ---

// Watch is a KindWatch node: like RegAppend, but additionally supports
// live subscription for `tail`-style reads that should unblock as soon
// as new data arrives rather than waiting for the next poll.
type Watch struct {
	RegAppend
	subsMu sync.Mutex
	subs   []chan []byte
}

// NewWatch allocates a watch-stream node.
func NewWatch(name string, qidPath uint64, capacity int, pred Predicate) *Watch {
	w := &Watch{RegAppend: *NewRegAppend(name, qidPath, capacity, pred)}
	w.base.kind = KindWatch
	w.RegAppend.OnWrite(w.fanOut)
	return w
}

func (w *Watch) fanOut(p []byte) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- append([]byte(nil), p...):
		default:
			// a slow tail subscriber never blocks the writer (spec §4.5)
		}
	}
}

// Subscribe registers a channel fed with every chunk written after the
// call, for the console `tail` verb. The returned cancel function must
// be called when the watching fid is clunked or the connection closes.
func (w *Watch) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 32)
	w.subsMu.Lock()
	w.subs = append(w.subs, ch)
	w.subsMu.Unlock()

	return ch, func() {
		w.subsMu.Lock()
		defer w.subsMu.Unlock()
		for i, c := range w.subs {
			if c == ch {
				w.subs = append(w.subs[:i], w.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// Cap exposes the node's fixed byte capacity (used by bounds checks
// elsewhere, e.g. telemetry per-segment limits).
func (r *RegAppend) Cap() int { return r.ring.Cap() }
