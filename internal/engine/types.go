// Package engine implements the execution engine (C7): the per-call pipeline
// that takes an ExecutionRequest from admission through a pooled container to
// a finalized ExecutionResult.
package engine

import (
	"github.com/isol8/isol8/internal/imagebuilder"
	"github.com/isol8/isol8/internal/pool"
)

// Mode selects how an Engine manages its containers.
type Mode string

const (
	ModeEphemeral  Mode = "ephemeral"
	ModePersistent Mode = "persistent"
)

// NetworkMode selects a request's or engine's network posture.
type NetworkMode string

const (
	NetworkNone     NetworkMode = "none"
	NetworkHost     NetworkMode = "host"
	NetworkFiltered NetworkMode = "filtered"
)

// Security selects the container's seccomp/gVisor posture.
type Security string

const (
	SecurityStrict     Security = "strict"
	SecurityUnconfined Security = "unconfined"
)

// NetworkFilter is a request's or engine's host allow/deny policy, as raw
// regex patterns (compiled lazily by the engine).
type NetworkFilter struct {
	Whitelist []string
	Blacklist []string
}

// EngineOptions configures a long-lived Engine instance.
type EngineOptions struct {
	Mode Mode

	Network       NetworkMode
	NetworkFilter NetworkFilter

	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
	SandboxMB   int64
	TmpMB       int64

	Security       Security
	ReadonlyRootFS bool
	// SeccompProfile is the JSON profile applied to strict-security
	// containers; defaults to imagebuilder's shipped profile.
	SeccompProfile []byte

	PoolStrategy pool.Strategy
	PoolClean    int
	PoolDirty    int

	LogNetwork bool

	// AdmissionLimit bounds concurrent in-flight executions across this
	// Engine. Zero means unbounded.
	AdmissionLimit int

	// ProxyPort is the loopback port the in-container filtering proxy
	// listens on for filtered-network containers.
	ProxyPort int
}

// DefaultEngineOptions returns spec-default options: ephemeral mode, no
// network, strict security, readonly rootfs, fast pool strategy.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Mode:           ModeEphemeral,
		Network:        NetworkNone,
		MemoryBytes:    512 * 1024 * 1024,
		NanoCPUs:       1_000_000_000,
		PidsLimit:      128,
		SandboxMB:      256,
		TmpMB:          64,
		Security:       SecurityStrict,
		ReadonlyRootFS: true,
		SeccompProfile: imagebuilder.DefaultSeccompProfile(),
		PoolStrategy:   pool.StrategyFast,
		PoolClean:      4,
		PoolDirty:      4,
		LogNetwork:     false,
		AdmissionLimit: 8,
		ProxyPort:      3128,
	}
}

// Request is one ExecutionRequest.
type Request struct {
	Code    string
	Runtime string

	Files map[string][]byte
	Env   map[string]string
	// Secrets behave like Env but their values are masked in Result output.
	Secrets map[string]string

	InstallPackages []string

	Stdin []byte

	TimeoutMs int64

	// Per-request overrides; zero values mean "use engine default".
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
	SandboxMB   int64
	TmpMB       int64
	Network     NetworkMode
	Filter      *NetworkFilter
}

// NetworkLogEntry mirrors sandboxproxy.Entry in the wire/result shape.
type NetworkLogEntry struct {
	TimestampMs int64
	Host        string
	Method      string
	Path        string
	StatusCode  int
	Action      string
	DurationMs  int64
}

// Result is one ExecutionResult.
type Result struct {
	ExitCode    int64
	Stdout      string
	Stderr      string
	DurationMs  int64
	NetworkLogs []NetworkLogEntry
	Truncated   bool
}

// StreamEventType discriminates StreamEvent.Data's meaning.
type StreamEventType string

const (
	StreamStdout StreamEventType = "stdout"
	StreamStderr StreamEventType = "stderr"
	StreamExit   StreamEventType = "exit"
)

// StreamEvent is one event of an ExecuteStream response.
type StreamEvent struct {
	Type     StreamEventType
	Data     []byte
	ExitCode int64 // valid iff Type == StreamExit
}
