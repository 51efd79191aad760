// Package ninesession implements the per-attach session state described
// in spec §3 Session/Fid and §4.4: a bounded fid table, a role-derived
// mount table, and the per-session counters that back quota
// enforcement.
package ninesession

import (
	"sort"
	"strings"

	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

// MountEntry binds a path visible to the session (At) to a path in the
// global provider tree (Target). Entries are a literal reimplementation
// of the bind-mount idea minimega's own VM filesystem staging uses, cut
// down to the constrained namespace Secure9P serves.
type MountEntry struct {
	At     string
	Target string
}

// MountTable is a session's private view of the global namespace. It
// starts out derived from the session's role (spec §4.4) and can be
// adjusted at runtime by `bind`/`mount` commands on /queen/ctl, subject
// to policy.
type MountTable struct {
	entries []MountEntry
}

// NewMountTable builds the default mount table for a role.
func NewMountTable(role ticket.Role, selfWorkerID, leasedGPU string) *MountTable {
	mt := &MountTable{}
	switch role {
	case ticket.RoleQueen:
		mt.entries = []MountEntry{{At: "/", Target: "/"}}
	case ticket.RoleWorkerHeartbeat, ticket.RoleWorkerGPU:
		mt.entries = []MountEntry{
			{At: "/proc/boot", Target: "/proc/boot"},
			{At: "/log/queen.log", Target: "/log/queen.log"},
		}
		if selfWorkerID != "" {
			p := "/shard/" + shardLabel(selfWorkerID) + "/worker/" + selfWorkerID + "/telemetry"
			mt.entries = append(mt.entries, MountEntry{At: p, Target: p})
		}
		if role == ticket.RoleWorkerGPU && leasedGPU != "" {
			p := "/gpu/" + leasedGPU
			mt.entries = append(mt.entries, MountEntry{At: p, Target: p})
		}
	}
	mt.sort()
	return mt
}

// NewMountTableFromPaths builds a mount table from an explicit list of
// identity-mapped paths, used when a ticket already carries its own
// resolved mount-set (spec §3 Ticket: "bound to {role, subject,
// mount-set, quota, expiry}").
func NewMountTableFromPaths(paths []string) *MountTable {
	mt := &MountTable{}
	for _, p := range paths {
		mt.entries = append(mt.entries, MountEntry{At: p, Target: p})
	}
	mt.sort()
	return mt
}

// shardLabel derives the two-hex-digit shard bucket for a worker id
// (spec §6: "Shard labels are two lowercase hex digits 00..ff").
func shardLabel(workerID string) string {
	var h byte
	for i := 0; i < len(workerID); i++ {
		h = h*31 + workerID[i]
	}
	const hex = "0123456789abcdef"
	return string([]byte{hex[h>>4], hex[h&0xf]})
}

func (mt *MountTable) sort() {
	sort.SliceStable(mt.entries, func(i, j int) bool {
		return len(mt.entries[i].At) > len(mt.entries[j].At)
	})
}

// Resolve maps a namespace path requested by the client onto the
// corresponding path in the global provider tree, or EPERM if no mount
// entry covers it (spec §4.4: "refuse any edge not permitted by the
// session's role").
func (mt *MountTable) Resolve(path string) (string, error) {
	for _, e := range mt.entries {
		if e.At == "/" {
			return e.Target + strings.TrimPrefix(path, "/"), nil
		}
		if path == e.At || strings.HasPrefix(path, e.At+"/") {
			return e.Target + strings.TrimPrefix(path, e.At), nil
		}
	}
	return "", coherr.New(coherr.EPERM, "path %q not mounted in this session", path)
}

// Bind adds (or replaces) a mount entry mapping dst to src's subtree
// (the `bind {src,dst}` ctl verb, spec §4.3). Binding onto a path that
// is already a mounted provider root is rejected with EBUSY (spec §9
// Open Question 3, resolved in favour of denial).
func (mt *MountTable) Bind(src, dst string) error {
	for _, e := range mt.entries {
		if e.At == dst {
			return coherr.New(coherr.EBUSY, "destination %q already mounted", dst)
		}
	}
	mt.entries = append(mt.entries, MountEntry{At: dst, Target: src})
	mt.sort()
	return nil
}

// Mount installs a provider root at path (the `mount {service, at}` ctl
// verb). It shares Bind's EBUSY-on-collision behaviour.
func (mt *MountTable) Mount(service, at string) error {
	return mt.Bind(service, at)
}

// Entries returns a copy of the table's entries, longest-prefix first.
func (mt *MountTable) Entries() []MountEntry {
	out := make([]MountEntry, len(mt.entries))
	copy(out, mt.entries)
	return out
}
