package hive

import (
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/lukeb-aidev/cohesix-sub003/internal/gpu"
	"github.com/lukeb-aidev/cohesix-sub003/internal/provider"
	"github.com/lukeb-aidev/cohesix-sub003/internal/ticket"
)

// shardLabel derives the two-hex-digit shard bucket for a worker id,
// matching internal/ninesession's private shardLabel exactly (spec §6:
// "Shard labels are two lowercase hex digits 00..ff") so a worker
// session's mount table and the hive's actual tree agree on the path.
func shardLabel(workerID string) string {
	var h byte
	for i := 0; i < len(workerID); i++ {
		h = h*31 + workerID[i]
	}
	const hex = "0123456789abcdef"
	return string([]byte{hex[h>>4], hex[h&0xf]})
}

func dirAt(root *provider.Dir, nextQid func() uint64, elems ...string) *provider.Dir {
	cur := root
	for _, e := range elems {
		child, err := cur.Walk(e)
		if err != nil {
			d := provider.NewDir(e, nextQid(), provider.AllowAll)
			cur.Add(e, d)
			cur = d
			continue
		}
		cur = child.(*provider.Dir)
	}
	return cur
}

// buildTree constructs every required path from spec §4.2 as an empty
// or statically-seeded node, leaving per-worker and per-gpu subtrees to
// be populated dynamically as spawn/lease/host-publish events occur.
func (h *Hive) buildTree() *provider.Dir {
	root := provider.NewDir("/", h.nextQid(), provider.AllowAll)

	proc := dirAt(root, h.nextQid, "proc")
	proc.Add("boot", provider.NewRegRO("boot", h.nextQid(), func() []byte {
		return []byte(fmt.Sprintf("fingerprint=dev-build\nreason=cold-boot\ntick_ms=%d\n", h.Manifest.EventPump.TickMs))
	}))

	lifecycleDir := dirAt(root, h.nextQid, "proc", "lifecycle")
	lifecycleDir.Add("state", provider.NewRegRO("state", h.nextQid(), func() []byte {
		return []byte(h.Orchestrator.LC.State().String() + "\n")
	}))
	lifecycleDir.Add("reason", provider.NewRegRO("reason", h.nextQid(), func() []byte {
		reason, _ := h.status.snapshot()
		return []byte(reason + "\n")
	}))
	lifecycleDir.Add("since", provider.NewRegRO("since", h.nextQid(), func() []byte {
		_, since := h.status.snapshot()
		return []byte(since.UTC().Format(time.RFC3339) + "\n")
	}))

	procRoot := dirAt(root, h.nextQid, "proc", "root")
	procRoot.Add("reachable", provider.NewRegRO("reachable", h.nextQid(), func() []byte { return []byte("1") }))

	tests := dirAt(root, h.nextQid, "proc", "tests")
	tests.Add("ping", provider.NewRegRO("ping", h.nextQid(), func() []byte { return []byte("PASS\n") }))

	queen := dirAt(root, h.nextQid, "queen")
	ctlNode := provider.NewRegAppend("ctl", h.nextQid(), 4096, provider.QueenOnly)
	queen.Add("ctl", ctlNode)

	telemetryDir := dirAt(root, h.nextQid, "queen", "telemetry")
	h.telemetryDir = telemetryDir
	telemetryDir.OnMissing(func(_ *provider.Dir, id string) (provider.Node, bool) {
		h.devicesMu.Lock()
		defer h.devicesMu.Unlock()
		_, dir := h.deviceLocked(id)
		return dir, true
	})

	exportJobs := dirAt(root, h.nextQid, "queen", "export", "lora_jobs")
	_ = exportJobs // populated per-job on host mirror publish

	dirAt(root, h.nextQid, "worker")
	dirAt(root, h.nextQid, "shard")

	logDir := dirAt(root, h.nextQid, "log")
	queenLog := provider.NewWatch("queen.log", h.nextQid(), 64*1024, provider.ReadOnlyAnyRole)
	logDir.Add("queen.log", queenLog)
	h.queenLogNode = queenLog
	h.Audit.OnAppend = func(text string) { queenLog.Write([]byte(text)) }

	gpuDir := dirAt(root, h.nextQid, "gpu")
	h.gpuDir = gpuDir
	bridge := dirAt(root, h.nextQid, "gpu", "bridge")
	bridgeCtl := provider.NewRegAppend("ctl", h.nextQid(), 4096, provider.QueenOnly)
	bridgeCtl.OnWrite(h.publishGPU)
	bridge.Add("ctl", bridgeCtl)
	bridge.Add("status", provider.NewRegRO("status", h.nextQid(), func() []byte { return []byte("idle\n") }))
	models := dirAt(root, h.nextQid, "gpu", "models")
	dirAt(root, h.nextQid, "gpu", "models", "available")
	models.Add("active", provider.NewRegRO("active", h.nextQid(), func() []byte { return []byte("") }))
	gpuTelemetry := dirAt(root, h.nextQid, "gpu", "telemetry")
	gpuTelemetry.Add("schema.json", provider.NewRegRO("schema.json", h.nextQid(), func() []byte {
		return []byte(`{"fields":["ts","gpu_id","util","mem_mb"]}` + "\n")
	}))
	_ = gpuDir

	dirAt(root, h.nextQid, "updates")

	if h.Manifest.Ecosystem.Host.Enable {
		dirAt(root, h.nextQid, "host")
	}

	return root
}

// mountWorker materialises /shard/<label>/worker/<id>/telemetry (and,
// when the manifest's legacy alias is enabled, /worker/<id>/telemetry
// pointing at the same backing node) for a newly spawned worker (spec
// §4.2: "canonical; legacy alias at /worker/<id>/telemetry toggleable
// via manifest").
func (h *Hive) mountWorker(id string, role ticket.Role) {
	label := shardLabel(id)
	shardWorkerDir := dirAt(h.Root, h.nextQid, "shard", label, "worker")
	workerDir := provider.NewDir(id, h.nextQid(), provider.AllowAll)
	shardWorkerDir.Add(id, workerDir)

	ring := h.Manifest.Telemetry.RingBytesPerWorker
	if ring <= 0 {
		ring = 32 * 1024
	}
	node := provider.NewRegAppend("telemetry", h.nextQid(), ring, provider.AllowAll)
	workerDir.Add("telemetry", node)

	if h.Manifest.Sharding.LegacyWorkerAlias {
		legacyDir, err := h.Root.Walk("worker")
		if err == nil {
			if d, ok := legacyDir.(*provider.Dir); ok {
				alias := provider.NewDir(id, h.nextQid(), provider.AllowAll)
				alias.Add("telemetry", node)
				d.Add(id, alias)
			}
		}
	}
}

// unmountWorker removes a killed worker's namespace presence.
func (h *Hive) unmountWorker(id string) {
	label := shardLabel(id)
	if d, err := h.Root.Walk("shard"); err == nil {
		if sd, ok := d.(*provider.Dir); ok {
			if ld, err := sd.Walk(label); err == nil {
				if wd, ok := ld.(*provider.Dir); ok {
					if workerDir, err := wd.Walk("worker"); err == nil {
						if w, ok := workerDir.(*provider.Dir); ok {
							w.Remove(id)
						}
					}
				}
			}
		}
	}
	if legacyDir, err := h.Root.Walk("worker"); err == nil {
		if d, ok := legacyDir.(*provider.Dir); ok {
			d.Remove(id)
		}
	}
}

// gpuPublish is the host-publish payload accepted on /gpu/bridge/ctl
// (spec §4.2: "/gpu/<id>/{info,ctl,lease,status} ... populated on host
// publish via /gpu/bridge/ctl").
type gpuPublish struct {
	GPUID   string `json:"gpu_id"`
	Model   string `json:"model"`
	MemMB   int    `json:"mem_mb"`
	Streams int    `json:"streams"`
}

// gpuEntry is the materialised /gpu/<id> subtree plus the last
// host-published descriptor it renders through "info".
type gpuEntry struct {
	mu   sync.Mutex
	info gpuPublish
	dir  *provider.Dir
}

// publishGPU handles one write to /gpu/bridge/ctl, materialising (or
// refreshing) the advertised GPU's subtree. Malformed or gpu_id-less
// payloads are dropped silently, matching the append-only node's own
// "a slow subscriber never blocks the writer" tolerance for garbage.
func (h *Hive) publishGPU(p []byte) {
	var msg gpuPublish
	if err := json.Unmarshal(p, &msg); err != nil || msg.GPUID == "" {
		return
	}

	h.gpuMu.Lock()
	e := h.gpuEntryLocked(msg.GPUID)
	h.gpuMu.Unlock()

	e.mu.Lock()
	e.info = msg
	e.mu.Unlock()
}

// gpuEntryLocked returns the cached entry for id, building its
// /gpu/<id>/{info,ctl,lease,status} subtree on first publish. Callers
// must hold gpuMu.
func (h *Hive) gpuEntryLocked(id string) *gpuEntry {
	if e, ok := h.gpus[id]; ok {
		return e
	}

	e := &gpuEntry{}
	dir := provider.NewDir(id, h.nextQid(), provider.AllowAll)
	e.dir = dir
	h.gpus[id] = e
	h.gpuDir.Add(id, dir)

	dir.Add("info", provider.NewRegRO("info", h.nextQid(), func() []byte {
		e.mu.Lock()
		info := e.info
		e.mu.Unlock()
		return []byte(fmt.Sprintf("gpu_id=%s model=%s mem_mb=%d streams=%d\n", info.GPUID, info.Model, info.MemMB, info.Streams))
	}))
	dir.Add("ctl", provider.NewRegAppend("ctl", h.nextQid(), 4096, provider.QueenOnly))
	dir.Add("lease", provider.NewRegRO("lease", h.nextQid(), func() []byte {
		return []byte(h.renderGPULeases(id))
	}))
	dir.Add("status", provider.NewRegRO("status", h.nextQid(), func() []byte {
		for _, l := range h.Orchestrator.GPUs.ForGPU(id) {
			if l.State == gpu.Active {
				return []byte("ACTIVE\n")
			}
		}
		return []byte("idle\n")
	}))

	return e
}

// renderGPULeases formats each worker's current lease record on gpuID
// (gpu.Table.ForGPU) as one line, oldest acquisition first, so the most
// recent ACTIVE or
// RELEASED line is always the last one in the file (spec §8: "at most
// one ACTIVE line is the most recent in /gpu/<id>/lease").
func (h *Hive) renderGPULeases(gpuID string) string {
	var b []byte
	for _, l := range h.Orchestrator.GPUs.ForGPU(gpuID) {
		b = append(b, fmt.Sprintf("gpu_id=%s worker_id=%s mem_mb=%d streams=%d ttl_s=%d priority=%s state=%s\n",
			l.GPUID, l.WorkerID, l.MemMB, l.Streams, l.TTLs, l.Priority, l.State)...)
	}
	return string(b)
}
