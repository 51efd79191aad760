// Package console implements the shared serial/TCP console grammar
// (spec §4.6): a heapless line parser, rate-limited auth, and an
// OK/ERR/END acknowledgement dispatcher sitting in front of the
// Secure9P namespace and the /queen/ctl verbs.
package console

import (
	"strconv"
	"strings"

	"github.com/lukeb-aidev/cohesix-sub003/internal/audit"
	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ctl"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ninesession"
	"github.com/lukeb-aidev/cohesix-sub003/internal/provider"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

// PeerSession is one console connection's authentication state. It is
// distinct from ninesession.Session (the Secure9P attach state) but owns
// one once login succeeds.
type PeerSession struct {
	PeerID string
	IsTCP  bool
	Nine   *ninesession.Session
}

func (ps *PeerSession) authenticated() bool { return ps.Nine != nil }

// Response is what Dispatch returns: the ack line, any payload lines,
// and (for `tail`) a live stream the caller forwards until cancelled.
type Response struct {
	Ack          string
	Payload      []string
	Stream       <-chan string
	StreamCancel func()
	Quit         bool
}

// Handler ties the console grammar to the namespace tree, the ticket
// table, and the root task's control verbs.
type Handler struct {
	Root    provider.Node
	Tickets *ticket.Table
	CtlRoot ctl.RootTask
	Limiter *AuthLimiter
	Audit   *audit.Sink

	// BootToken, if set, is accepted as the ticket argument of `attach
	// <role> <token>` in place of a minted 64-hex ticket id, minting a
	// fresh ticket for the requested role exactly as the no-token form
	// does (spec §8 S1: the very first documented boot scenario attaches
	// with a short, well-known credential, not a ticket a client could
	// not yet possess).
	BootToken string
}

// Dispatch handles one already-parsed command for ps. CheckTransport
// must be applied by the caller first so TCP-only verbs never reach a
// serial peer.
func (h *Handler) Dispatch(ps *PeerSession, cmd Command) Response {
	switch cmd.Verb {
	case "help":
		return h.handleHelp()
	case "attach", "login":
		return h.handleAttach(ps, cmd.Args)
	case "detach":
		return h.handleDetach(ps)
	case "ping":
		return Response{Ack: FormatOK("ping", nil)}
	case "tcp-diag":
		return Response{Ack: FormatOK("tcp-diag", map[string]string{"peer": ps.PeerID})}
	case "ls":
		return h.handleLs(ps, cmd.Args)
	case "cat":
		return h.handleCat(ps, cmd.Args)
	case "tail":
		return h.handleTail(ps, cmd.Args)
	case "echo":
		return Response{Ack: FormatOK("echo", nil), Payload: []string{strings.Join(cmd.Args, " ")}}
	case "spawn":
		return h.handleSpawn(ps, cmd.Args)
	case "kill":
		return h.handleKill(ps, cmd.Args)
	case "bind":
		return h.handleBind(ps, cmd.Args)
	case "mount":
		return h.handleMount(ps, cmd.Args)
	case "lifecycle":
		return h.handleLifecycle(ps, cmd.Args)
	case "log":
		return h.handleLog()
	case "netstats":
		return h.handleNetstats(ps)
	case "test":
		return h.handleTest(ps, cmd.Args)
	case "pool":
		return h.handlePool(ps)
	case "quit":
		return Response{Ack: FormatOK("quit", nil), Quit: true}
	default:
		return errResponse(cmd.Verb, coherr.New(coherr.EINVAL, "unknown verb"))
	}
}

func errResponse(verb string, err error) Response {
	return Response{Ack: FormatErr(verb, err)}
}

func (h *Handler) handleHelp() Response {
	names := make([]string, 0, len(Verbs))
	for v := range Verbs {
		names = append(names, v)
	}
	return Response{Ack: FormatOK("help", nil), Payload: names}
}

// handleAttach binds the peer to a role, either minting a fresh ticket
// (no ticket argument) or validating a presented one (spec §3 Ticket,
// §4.6). Failed logins feed the rate limiter (spec §4.6/§8).
func (h *Handler) handleAttach(ps *PeerSession, args []string) Response {
	if len(args) < 1 {
		h.Limiter.RecordFailure(ps.PeerID)
		return errResponse("attach", coherr.New(coherr.EINVAL, "attach requires a role"))
	}

	role, ok := parseRole(args[0])
	if !ok {
		h.Limiter.RecordFailure(ps.PeerID)
		return errResponse("attach", coherr.New(coherr.EINVAL, "unknown role %q", args[0]))
	}

	var tk *ticket.Ticket
	switch {
	case len(args) < 2:
		tk = h.Tickets.Mint(role, ps.PeerID, nil, ticket.Quota{})
	case h.BootToken != "" && args[1] == h.BootToken:
		tk = h.Tickets.Mint(role, ps.PeerID, nil, ticket.Quota{})
	default:
		id, err := parseTicketID(args[1])
		if err != nil {
			h.Limiter.RecordFailure(ps.PeerID)
			return errResponse("attach", err)
		}
		tk, err = h.Tickets.Lookup(id)
		if err != nil {
			h.Limiter.RecordFailure(ps.PeerID)
			return errResponse("attach", err)
		}
		if tk.Role != role {
			h.Limiter.RecordFailure(ps.PeerID)
			return errResponse("attach", coherr.New(coherr.EPERM, "ticket role mismatch"))
		}
	}

	ps.Nine = ninesession.New(tk, 8192, "", "")
	h.Limiter.RecordSuccess(ps.PeerID)
	if h.Audit != nil {
		h.Audit.Append(tk.ID.Short(), "attach", "", "allow", "")
	}
	return Response{Ack: FormatOK("attach", map[string]string{"role": role.String()})}
}

func (h *Handler) handleDetach(ps *PeerSession) Response {
	if !ps.authenticated() {
		return errResponse("detach", coherr.New(coherr.EPERM, "not attached"))
	}
	subject := ps.Nine.Ticket.ID.Short()
	ps.Nine.ClunkAll()
	ps.Nine = nil
	if h.Audit != nil {
		h.Audit.Append(subject, "detach", "", "allow", "")
	}
	return Response{Ack: FormatOK("detach", nil)}
}

func (h *Handler) requireAuth(ps *PeerSession, verb string) error {
	if !ps.authenticated() {
		return coherr.New(coherr.EPERM, "%s requires attach", verb)
	}
	return nil
}

func (h *Handler) resolve(ps *PeerSession, path string) (provider.Node, error) {
	target, err := ps.Nine.Mounts.Resolve(path)
	if err != nil {
		return nil, err
	}
	return provider.WalkPath(h.Root, target)
}

func (h *Handler) handleLs(ps *PeerSession, args []string) Response {
	if err := h.requireAuth(ps, "ls"); err != nil {
		return errResponse("ls", err)
	}
	path := "/"
	if len(args) > 0 {
		path = args[0]
	}
	n, err := h.resolve(ps, path)
	if err != nil {
		return errResponse("ls", err)
	}
	if err := n.Open(ps.Nine.Ticket.Role, provider.ModeRead); err != nil {
		return errResponse("ls", err)
	}
	if n.Kind() != provider.KindDir {
		return Response{Ack: FormatOK("ls", nil), Payload: []string{n.Name()}}
	}
	return Response{Ack: FormatOK("ls", nil), Payload: n.List()}
}

func (h *Handler) handleCat(ps *PeerSession, args []string) Response {
	if err := h.requireAuth(ps, "cat"); err != nil {
		return errResponse("cat", err)
	}
	if len(args) < 1 {
		return errResponse("cat", coherr.New(coherr.EINVAL, "cat requires a path"))
	}
	n, err := h.resolve(ps, args[0])
	if err != nil {
		return errResponse("cat", err)
	}
	data, err := readAllNode(n, ps.Nine.Ticket.Role)
	if err != nil {
		return errResponse("cat", err)
	}
	return Response{Ack: FormatOK("cat", nil), Payload: splitLines(data)}
}

// handleTail acknowledges OK TAIL before any payload byte is emitted
// (spec §4.6) and streams subsequent writes until the caller cancels it.
func (h *Handler) handleTail(ps *PeerSession, args []string) Response {
	if err := h.requireAuth(ps, "tail"); err != nil {
		return errResponse("tail", err)
	}
	if len(args) < 1 {
		return errResponse("tail", coherr.New(coherr.EINVAL, "tail requires a path"))
	}
	n, err := h.resolve(ps, args[0])
	if err != nil {
		return errResponse("tail", err)
	}
	if err := n.Open(ps.Nine.Ticket.Role, provider.ModeRead); err != nil {
		return errResponse("tail", err)
	}

	w, ok := n.(*provider.Watch)
	if !ok {
		// not a live stream: ack, then hand back an already-closed
		// stream so the transport writes END straight after the ack.
		done := make(chan string)
		close(done)
		return Response{Ack: FormatOK("tail", nil), Stream: done}
	}

	raw, cancel := w.Subscribe()
	lines := make(chan string, 32)
	go func() {
		defer close(lines)
		for chunk := range raw {
			for _, l := range splitLines(chunk) {
				lines <- l
			}
		}
	}()
	return Response{Ack: FormatOK("tail", nil), Stream: lines, StreamCancel: cancel}
}

func (h *Handler) handleLog() Response {
	if h.Audit == nil {
		return Response{Ack: FormatOK("log", nil)}
	}
	return Response{Ack: FormatOK("log", nil), Payload: splitLines(h.Audit.Bytes())}
}

func (h *Handler) handleNetstats(ps *PeerSession) Response {
	if !ps.authenticated() {
		return Response{Ack: FormatOK("netstats", map[string]string{"bytes_in": "0", "bytes_out": "0"})}
	}
	return Response{Ack: FormatOK("netstats", map[string]string{
		"bytes_in":  strconv.FormatUint(ps.Nine.Stats.BytesIn, 10),
		"bytes_out": strconv.FormatUint(ps.Nine.Stats.BytesOut, 10),
	})}
}

func (h *Handler) handleTest(ps *PeerSession, args []string) Response {
	if err := h.requireAuth(ps, "test"); err != nil {
		return errResponse("test", err)
	}
	name := "reachable"
	if len(args) > 0 {
		name = args[0]
	}
	n, err := h.resolve(ps, "/proc/tests/"+name)
	if err != nil {
		return errResponse("test", err)
	}
	data, err := readAllNode(n, ps.Nine.Ticket.Role)
	if err != nil {
		return errResponse("test", err)
	}
	return Response{Ack: FormatOK("test", map[string]string{"name": name}), Payload: splitLines(data)}
}

func (h *Handler) handlePool(ps *PeerSession) Response {
	if err := h.requireAuth(ps, "pool"); err != nil {
		return errResponse("pool", err)
	}
	q := ps.Nine.Ticket.Quota
	return Response{Ack: FormatOK("pool", map[string]string{
		"ticks": strconv.Itoa(q.Ticks),
		"ops":   strconv.Itoa(q.Ops),
		"ttl_s": strconv.Itoa(q.TTLs),
	})}
}

// --- /queen/ctl verbs expressed as console commands ---

func (h *Handler) requireQueen(ps *PeerSession, verb string) error {
	if err := h.requireAuth(ps, verb); err != nil {
		return err
	}
	if ps.Nine.Ticket.Role != ticket.RoleQueen {
		return coherr.New(coherr.EPERM, "%s requires the queen role", verb)
	}
	return nil
}

func (h *Handler) handleSpawn(ps *PeerSession, args []string) Response {
	if err := h.requireQueen(ps, "spawn"); err != nil {
		return errResponse("spawn", err)
	}
	if len(args) < 1 {
		return errResponse("spawn", coherr.New(coherr.EINVAL, "spawn requires a role"))
	}
	kv := parseKV(args[1:])

	switch args[0] {
	case "heartbeat":
		ticks, _ := strconv.Atoi(kv["ticks"])
		if ticks <= 0 {
			return errResponse("spawn", coherr.New(coherr.EINVAL, "ticks must be a positive integer"))
		}
		ttl, _ := strconv.Atoi(kv["ttl_s"])
		ops, _ := strconv.Atoi(kv["ops"])
		id, perform, err := h.CtlRoot.SpawnHeartbeat(ps.Nine, ticks, ttl, ops)
		if err != nil {
			return errResponse("spawn", err)
		}
		return perform1(perform, FormatOK("spawn", map[string]string{"id": id}))

	case "gpu":
		memMB, _ := strconv.Atoi(kv["mem_mb"])
		streams, _ := strconv.Atoi(kv["streams"])
		ttl, _ := strconv.Atoi(kv["ttl_s"])
		budgetTTLs, _ := strconv.Atoi(kv["budget_ttl_s"])
		budgetOps, _ := strconv.Atoi(kv["budget_ops"])
		if kv["gpu_id"] == "" || memMB <= 0 || streams <= 0 || ttl <= 0 {
			return errResponse("spawn", coherr.New(coherr.EINVAL, "gpu spawn requires gpu_id, mem_mb, streams, ttl_s"))
		}
		id, perform, err := h.CtlRoot.SpawnGPU(ps.Nine, kv["gpu_id"], memMB, streams, ttl, kv["priority"], budgetTTLs, budgetOps)
		if err != nil {
			return errResponse("spawn", err)
		}
		return perform1(perform, FormatOK("spawn", map[string]string{"id": id}))

	default:
		return errResponse("spawn", coherr.New(coherr.EINVAL, "unknown spawn role %q", args[0]))
	}
}

func (h *Handler) handleKill(ps *PeerSession, args []string) Response {
	if err := h.requireQueen(ps, "kill"); err != nil {
		return errResponse("kill", err)
	}
	if len(args) < 1 {
		return errResponse("kill", coherr.New(coherr.EINVAL, "kill requires a worker id"))
	}
	perform, err := h.CtlRoot.Kill(ps.Nine, args[0])
	if err != nil {
		return errResponse("kill", err)
	}
	return perform1(perform, FormatOK("kill", map[string]string{"id": args[0]}))
}

func (h *Handler) handleBind(ps *PeerSession, args []string) Response {
	if err := h.requireQueen(ps, "bind"); err != nil {
		return errResponse("bind", err)
	}
	if len(args) < 2 {
		return errResponse("bind", coherr.New(coherr.EINVAL, "bind requires src and dst"))
	}
	perform, err := h.CtlRoot.Bind(ps.Nine, args[0], args[1])
	if err != nil {
		return errResponse("bind", err)
	}
	return perform1(perform, FormatOK("bind", nil))
}

func (h *Handler) handleMount(ps *PeerSession, args []string) Response {
	if err := h.requireQueen(ps, "mount"); err != nil {
		return errResponse("mount", err)
	}
	if len(args) < 2 {
		return errResponse("mount", coherr.New(coherr.EINVAL, "mount requires service and at"))
	}
	perform, err := h.CtlRoot.Mount(ps.Nine, args[0], args[1])
	if err != nil {
		return errResponse("mount", err)
	}
	return perform1(perform, FormatOK("mount", nil))
}

func (h *Handler) handleLifecycle(ps *PeerSession, args []string) Response {
	if err := h.requireQueen(ps, "lifecycle"); err != nil {
		return errResponse("lifecycle", err)
	}
	if len(args) < 1 {
		return errResponse("lifecycle", coherr.New(coherr.EINVAL, "lifecycle requires an action"))
	}
	perform, err := h.CtlRoot.Lifecycle(ps.Nine, args[0])
	if err != nil {
		return errResponse("lifecycle", err)
	}
	return perform1(perform, FormatOK("lifecycle", nil))
}

// perform1 runs perform only after the ack string has been built, which
// is as far as Dispatch can enforce the ack-before-perform ordering: the
// caller still must write ack before any further state is observable,
// since perform() itself writes the audit line (spec §4.3, §4.5).
func perform1(perform func() error, ack string) Response {
	if err := perform(); err != nil {
		return Response{Ack: FormatErr("internal", coherr.New(coherr.EINTERNAL, "%v", err))}
	}
	return Response{Ack: ack}
}

func parseRole(s string) (ticket.Role, bool) {
	switch s {
	case "queen":
		return ticket.RoleQueen, true
	case "worker-heartbeat":
		return ticket.RoleWorkerHeartbeat, true
	case "worker-gpu":
		return ticket.RoleWorkerGPU, true
	}
	return 0, false
}

func parseTicketID(s string) (ticket.ID, error) {
	var id ticket.ID
	if len(s) != len(id)*2 {
		return id, coherr.New(coherr.EINVAL, "ticket id must be %d hex chars", len(id)*2)
	}
	for i := range id {
		b, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return id, coherr.New(coherr.EINVAL, "ticket id is not valid hex")
		}
		id[i] = byte(b)
	}
	return id, nil
}

func parseKV(args []string) map[string]string {
	kv := make(map[string]string, len(args))
	for _, a := range args {
		parts := strings.SplitN(a, "=", 2)
		if len(parts) == 2 {
			kv[parts[0]] = parts[1]
		}
	}
	return kv
}

func splitLines(data []byte) []string {
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func readAllNode(n provider.Node, role ticket.Role) ([]byte, error) {
	if err := n.Open(role, provider.ModeRead); err != nil {
		return nil, err
	}
	var out []byte
	tmp := make([]byte, 4096)
	var offset uint64
	for {
		m, err := n.Read(offset, tmp)
		if err != nil {
			return nil, err
		}
		if m == 0 {
			break
		}
		out = append(out, tmp[:m]...)
		offset += uint64(m)
		if m < len(tmp) {
			break
		}
	}
	return out, nil
}
