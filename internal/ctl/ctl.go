// Package ctl implements the /queen/ctl JSON-lines command grammar
// (spec §4.3): parsing, synchronous validation, and dispatch to the
// root task. Every command is validated before it ever touches the
// root task's state; side effects are deferred to a caller-supplied
// perform step so callers (the consoles, NineDoor's write path) can
// guarantee "acknowledgement committed, then perform, then audit"
// (spec §4.3, §4.5).
package ctl

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/lukeb-aidev/cohesix-sub003/internal/bounded"
	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ninesession"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

// RootTask is the subset of the root task orchestrator (spec §4.9
// component C9) that the ctl grammar drives. It is satisfied
// structurally by internal/roottask.Orchestrator; ctl never imports
// roottask, which would otherwise create an import cycle through
// ninesession.
type RootTask interface {
	SpawnHeartbeat(ses *ninesession.Session, ticks, ttlS, ops int) (workerID string, perform func() error, err error)
	SpawnGPU(ses *ninesession.Session, gpuID string, memMB, streams, ttlS int, priority string, budgetTTLs, budgetOps int) (workerID string, perform func() error, err error)
	Kill(ses *ninesession.Session, workerID string) (perform func() error, err error)
	Bind(ses *ninesession.Session, src, dst string) (perform func() error, err error)
	Mount(ses *ninesession.Session, service, at string) (perform func() error, err error)
	Lease(ses *ninesession.Session, gpuID string, memMB, streams, ttlS int, priority string) (perform func() error, err error)
	Lifecycle(ses *ninesession.Session, action string) (perform func() error, err error)
}

// raw is the generic shape every /queen/ctl line decodes into before
// verb-specific validation.
type raw struct {
	Spawn     *spawnCmd `json:"spawn"`
	Kill      string    `json:"kill"`
	Bind      *bindCmd  `json:"bind"`
	Mount     *mountCmd `json:"mount"`
	Lease     *leaseCmd `json:"lease"`
	Lifecycle string    `json:"lifecycle"`
}

type spawnCmd struct {
	Role       string `json:"role"`
	Ticks      *int   `json:"ticks"`
	TTLs       *int   `json:"ttl_s"`
	Ops        *int   `json:"ops"`
	GPUID      string `json:"gpu_id"`
	MemMB      int    `json:"mem_mb"`
	Streams    int    `json:"streams"`
	Priority   string `json:"priority"`
	BudgetTTLs int    `json:"budget_ttl_s"`
	BudgetOps  int    `json:"budget_ops"`
}

type bindCmd struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

type mountCmd struct {
	Service string `json:"service"`
	At      string `json:"at"`
}

type leaseCmd struct {
	GPUID    string `json:"gpu_id"`
	MemMB    int    `json:"mem_mb"`
	Streams  int    `json:"streams"`
	TTLs     int    `json:"ttl_s"`
	Priority string `json:"priority"`
}

// Result is what Handle returns: the verb (for ack formatting), fields
// to surface on a successful ack, and a deferred perform step the
// caller must run only after committing the ack to the transport.
type Result struct {
	Verb    string
	Fields  map[string]string
	Perform func() error
}

// Dispatcher parses and validates /queen/ctl lines against a RootTask.
type Dispatcher struct {
	root RootTask
}

// NewDispatcher builds a Dispatcher bound to root.
func NewDispatcher(root RootTask) *Dispatcher {
	return &Dispatcher{root: root}
}

// Handle validates and (where applicable) prepares one JSON command
// line. A non-nil error always wraps a *coherr.Error (reachable through
// coherr.As/TagOf) and carries the verb (ctl.Verb) the caller should
// surface as `ERR <verb> reason=<tag>`.
func (d *Dispatcher) Handle(ses *ninesession.Session, line []byte) (*Result, error) {
	if err := bounded.ValidateCtlLine(line); err != nil {
		return nil, &verbError{verb: "ctl", err: coherr.New(coherr.EINVAL, "%v", err)}
	}

	var cmd raw
	if err := json.Unmarshal(line, &cmd); err != nil {
		return nil, &verbError{verb: "ctl", err: coherr.New(coherr.EINVAL, "malformed json: %v", err)}
	}

	if ses.Ticket.Role != ticket.RoleQueen {
		return nil, &verbError{verb: verbName(cmd), err: coherr.New(coherr.EPERM, "only the queen role may write /queen/ctl")}
	}

	switch {
	case cmd.Spawn != nil:
		return d.handleSpawn(ses, cmd.Spawn)
	case cmd.Kill != "":
		return d.handleKill(ses, cmd.Kill)
	case cmd.Bind != nil:
		return d.handleBind(ses, cmd.Bind)
	case cmd.Mount != nil:
		return d.handleMount(ses, cmd.Mount)
	case cmd.Lease != nil:
		return d.handleLease(ses, cmd.Lease)
	case cmd.Lifecycle != "":
		return d.handleLifecycle(ses, cmd.Lifecycle)
	default:
		return nil, &verbError{verb: "ctl", err: coherr.New(coherr.EINVAL, "unrecognised command")}
	}
}

func verbName(cmd raw) string {
	switch {
	case cmd.Spawn != nil:
		return "spawn"
	case cmd.Kill != "":
		return "kill"
	case cmd.Bind != nil:
		return "bind"
	case cmd.Mount != nil:
		return "mount"
	case cmd.Lease != nil:
		return "lease"
	case cmd.Lifecycle != "":
		return "lifecycle"
	}
	return "ctl"
}

// verbError pairs a coherr.Error with the verb it was produced for, so
// callers can format `ERR <verb> reason=<tag>` without re-deriving the
// verb from already-consumed input.
type verbError struct {
	verb string
	err  *coherr.Error
}

func (e *verbError) Error() string { return fmt.Sprintf("%s: %v", e.verb, e.err) }
func (e *verbError) Unwrap() error { return e.err }

// Verb returns the verb a *verbError (or any error from Handle) belongs
// to, defaulting to "ctl".
func Verb(err error) string {
	if ve, ok := err.(*verbError); ok {
		return ve.verb
	}
	return "ctl"
}

func (d *Dispatcher) handleSpawn(ses *ninesession.Session, s *spawnCmd) (*Result, error) {
	switch s.Role {
	case "heartbeat":
		if s.Ticks == nil || *s.Ticks <= 0 {
			return nil, &verbError{"spawn", coherr.New(coherr.EINVAL, "ticks must be a positive integer")}
		}
		ttl, ops := 0, 0
		if s.TTLs != nil {
			ttl = *s.TTLs
		}
		if s.Ops != nil {
			ops = *s.Ops
		}
		id, perform, err := d.root.SpawnHeartbeat(ses, *s.Ticks, ttl, ops)
		if err != nil {
			return nil, &verbError{"spawn", coherr.New(coherr.TagOf(err), "%v", err)}
		}
		return &Result{Verb: "spawn", Fields: map[string]string{"id": id}, Perform: perform}, nil

	case "gpu":
		if s.GPUID == "" || s.MemMB <= 0 || s.Streams <= 0 || s.TTLs == nil || *s.TTLs <= 0 {
			return nil, &verbError{"spawn", coherr.New(coherr.EINVAL, "gpu spawn requires gpu_id, mem_mb, streams, ttl_s")}
		}
		id, perform, err := d.root.SpawnGPU(ses, s.GPUID, s.MemMB, s.Streams, *s.TTLs, s.Priority, s.BudgetTTLs, s.BudgetOps)
		if err != nil {
			return nil, &verbError{"spawn", coherr.New(coherr.TagOf(err), "%v", err)}
		}
		return &Result{Verb: "spawn", Fields: map[string]string{"id": id}, Perform: perform}, nil

	default:
		return nil, &verbError{"spawn", coherr.New(coherr.EINVAL, "unknown spawn role %q", s.Role)}
	}
}

func (d *Dispatcher) handleKill(ses *ninesession.Session, id string) (*Result, error) {
	perform, err := d.root.Kill(ses, id)
	if err != nil {
		return nil, &verbError{"kill", coherr.New(coherr.TagOf(err), "%v", err)}
	}
	return &Result{Verb: "kill", Fields: map[string]string{"id": id}, Perform: perform}, nil
}

func (d *Dispatcher) handleBind(ses *ninesession.Session, b *bindCmd) (*Result, error) {
	if b.Src == "" || b.Dst == "" {
		return nil, &verbError{"bind", coherr.New(coherr.EINVAL, "bind requires src and dst")}
	}
	perform, err := d.root.Bind(ses, b.Src, b.Dst)
	if err != nil {
		return nil, &verbError{"bind", coherr.New(coherr.TagOf(err), "%v", err)}
	}
	return &Result{Verb: "bind", Perform: perform}, nil
}

func (d *Dispatcher) handleMount(ses *ninesession.Session, m *mountCmd) (*Result, error) {
	if m.Service == "" || m.At == "" {
		return nil, &verbError{"mount", coherr.New(coherr.EINVAL, "mount requires service and at")}
	}
	perform, err := d.root.Mount(ses, m.Service, m.At)
	if err != nil {
		return nil, &verbError{"mount", coherr.New(coherr.TagOf(err), "%v", err)}
	}
	return &Result{Verb: "mount", Perform: perform}, nil
}

func (d *Dispatcher) handleLease(ses *ninesession.Session, l *leaseCmd) (*Result, error) {
	if l.GPUID == "" || l.MemMB <= 0 || l.Streams <= 0 || l.TTLs <= 0 {
		return nil, &verbError{"lease", coherr.New(coherr.EINVAL, "lease requires gpu_id, mem_mb, streams, ttl_s")}
	}
	perform, err := d.root.Lease(ses, l.GPUID, l.MemMB, l.Streams, l.TTLs, l.Priority)
	if err != nil {
		return nil, &verbError{"lease", coherr.New(coherr.TagOf(err), "%v", err)}
	}
	return &Result{Verb: "lease", Perform: perform}, nil
}

func (d *Dispatcher) handleLifecycle(ses *ninesession.Session, action string) (*Result, error) {
	switch action {
	case "cordon", "drain", "resume", "reset":
	default:
		return nil, &verbError{"lifecycle", coherr.New(coherr.EINVAL, "unknown lifecycle action %q", action)}
	}
	perform, err := d.root.Lifecycle(ses, action)
	if err != nil {
		return nil, &verbError{"lifecycle", coherr.New(coherr.TagOf(err), "%v", err)}
	}
	return &Result{Verb: "lifecycle", Perform: perform}, nil
}
