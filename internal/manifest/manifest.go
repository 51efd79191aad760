// Package manifest loads the build-time configuration enumerated in
// spec §6: event pump tick rate, Secure9P limits, telemetry/cache
// tuning, feature toggles, namespace sharding, and the seeded ticket
// set. It is consumed once at boot, never mutated at runtime.
package manifest

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
)

// EventPump configures the root task's cooperative scheduler (spec §4.5
// bootstrap step 5: "Configure a periodic timer (default tick 5 ms)").
type EventPump struct {
	TickMs int `yaml:"tick_ms"`
}

// Secure9P bounds the namespace server's wire limits (spec §4.1).
type Secure9P struct {
	Msize          uint32 `yaml:"msize"`
	WalkDepth      int    `yaml:"walk_depth"`
	TagsPerSession int    `yaml:"tags_per_session"`
	BatchFrames    int    `yaml:"batch_frames"`
}

// Telemetry configures the per-worker telemetry ring (spec §3 Telemetry
// segment).
type Telemetry struct {
	RingBytesPerWorker int `yaml:"ring_bytes_per_worker"`
}

// Cache mirrors the aarch64 cache-maintenance knobs the root task's
// device bootstrap consults (spec §6).
type Cache struct {
	KernelOps         bool `yaml:"kernel_ops"`
	DMAClean          bool `yaml:"dma_clean"`
	DMAInvalidate     bool `yaml:"dma_invalidate"`
	UnifyInstructions bool `yaml:"unify_instructions"`
}

// Features toggles optional surfaces.
type Features struct {
	NetConsole    bool `yaml:"net_console"`
	SerialConsole bool `yaml:"serial_console"`
}

// Namespaces configures namespace-wide isolation policy.
type Namespaces struct {
	RoleIsolation bool `yaml:"role_isolation"`
}

// Sharding configures the /shard/<label> bucketing scheme (spec §4.4,
// §6).
type Sharding struct {
	Enabled           bool `yaml:"enabled"`
	ShardBits         int  `yaml:"shard_bits"`
	LegacyWorkerAlias bool `yaml:"legacy_worker_alias"`
}

// TicketSeed materialises one manifest-supplied ticket at boot (spec
// §4.5 bootstrap step 6).
type TicketSeed struct {
	ID      string   `yaml:"id"`
	Role    string   `yaml:"role"`
	Subject string   `yaml:"subject"`
	Mounts  []string `yaml:"mounts"`
	Ticks   int       `yaml:"ticks"`
	Ops     int       `yaml:"ops"`
	TTLs    int       `yaml:"ttl_s"`
}

// EcosystemConfig wraps the per-integration enable flags the manifest
// key ecosystem.{host,audit,policy,models}.enable describes.
type EcosystemConfig struct {
	Host   struct {
		Enable bool `yaml:"enable"`
	} `yaml:"host"`
	Audit struct {
		Enable bool `yaml:"enable"`
	} `yaml:"audit"`
	Policy struct {
		Enable bool `yaml:"enable"`
	} `yaml:"policy"`
	Models struct {
		Enable bool `yaml:"enable"`
	} `yaml:"models"`
}

// Manifest is the full build-time configuration document (spec §6).
type Manifest struct {
	EventPump  EventPump       `yaml:"event_pump"`
	Secure9P   Secure9P        `yaml:"secure9p"`
	Telemetry  Telemetry       `yaml:"telemetry"`
	Cache      Cache           `yaml:"cache"`
	Features   Features        `yaml:"features"`
	Namespaces Namespaces      `yaml:"namespaces"`
	Sharding   Sharding        `yaml:"sharding"`
	Tickets    []TicketSeed    `yaml:"tickets"`
	Ecosystem  EcosystemConfig `yaml:"ecosystem"`

	// BootToken is the well-known console credential accepted in place
	// of a minted ticket id for `attach <role> <token>` before any real
	// ticket has been handed out (spec §8 S1: boot+attach+help).
	BootToken string `yaml:"boot_token"`
}

// Default returns the manifest's built-in defaults, used when no
// manifest file is supplied.
func Default() Manifest {
	return Manifest{
		EventPump: EventPump{TickMs: 5},
		Secure9P:  Secure9P{Msize: 8192, WalkDepth: 8, TagsPerSession: 64, BatchFrames: 1},
		Telemetry: Telemetry{RingBytesPerWorker: 32 * 1024},
		Features:  Features{NetConsole: true, SerialConsole: true},
		Sharding:  Sharding{Enabled: true, ShardBits: 8, LegacyWorkerAlias: true},
		BootToken: "changeme",
	}
}

// Load reads and parses a manifest file. It starts from Default() and
// unmarshals the document on top of it, so any key the document leaves
// out keeps its default value.
func Load(path string) (Manifest, error) {
	m := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, coherr.New(coherr.EINVAL, "reading manifest: %v", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, coherr.New(coherr.EINVAL, "parsing manifest: %v", err)
	}
	return m, nil
}
