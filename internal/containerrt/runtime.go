// Package containerrt abstracts the container runtime operations the pool
// (C5) and execution engine (C7) need: create/start/remove containers, run
// and stream an exec inside them, copy files in and out, and lock down
// egress. The only implementation shipped is Docker; the interface exists so
// the pool and engine depend on a narrow contract rather than the Docker SDK
// directly.
package containerrt

import (
	"context"
	"io"
)

// Config describes a container to create.
type Config struct {
	Image          string
	Labels         map[string]string
	Env            []string
	User           string // uid or name to run the container's init process as
	ReadonlyRootfs bool
	MemoryBytes    int64
	NanoCPUs       int64 // cpuLimit * 1e9
	PidsLimit      int64
	SandboxSizeMB  int64 // tmpfs size for /sandbox
	TmpSizeMB      int64 // tmpfs size for /tmp (noexec)
	NetworkMode    string // "none", "host", or "" (bridge, for filtered)
	SeccompProfile []byte // nil => the daemon's default profile; Unconfined disables seccomp
	Unconfined     bool
}

// ExecConfig describes a command to run inside a running container.
type ExecConfig struct {
	Cmd        []string
	Env        []string
	User       string
	WorkingDir string
	AttachStdin bool
	Tty        bool
}

// ExecResult is returned once an exec has been started; callers read Stdout
// and Stderr (demultiplexed) and call Wait for the exit code.
type ExecResult struct {
	Stdout io.Reader
	Stderr io.Reader
	Stdin  io.WriteCloser // nil if AttachStdin was false
	Wait   func(ctx context.Context) (exitCode int64, err error)
	Kill   func(ctx context.Context) error
}

// ContainerState is the subset of container.State the pool's liveness check
// needs.
type ContainerState struct {
	Running bool
	Status  string
}

// Runtime is the container runtime contract.
type Runtime interface {
	Ping(ctx context.Context) error

	CreateContainer(ctx context.Context, cfg Config) (id string, err error)
	StartContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	InspectState(ctx context.Context, id string) (ContainerState, error)

	// Exec runs cmd inside id and returns readers/writer plus Wait/Kill hooks.
	Exec(ctx context.Context, id string, cfg ExecConfig) (*ExecResult, error)

	// ListTopPIDs lists non-init PIDs running in the container's top-level
	// session, for the pool's cleanup protocol.
	ListTopPIDs(ctx context.Context, id string) ([]int, error)
	// KillPIDs sends SIGKILL to the given PIDs inside the container.
	KillPIDs(ctx context.Context, id string, pids []int) error

	// CopyToContainer uploads a tar archive to dstDir inside the container.
	CopyToContainer(ctx context.Context, id string, dstDir string, tarArchive []byte) error
	// CopyFromContainer downloads srcPath inside the container as a tar archive.
	CopyFromContainer(ctx context.Context, id string, srcPath string) ([]byte, error)

	// SetupFirewall locks down the sandbox user's egress from id to only the
	// loopback proxy port.
	SetupFirewall(ctx context.Context, id string, proxyPort int) error

	// SupportsGVisor reports whether the daemon has the gVisor (runsc)
	// runtime registered, for strict-security containers.
	SupportsGVisor(ctx context.Context) bool

	// ListManagedContainers lists containers carrying the isol8 management
	// label, for the `cleanup` CLI command.
	ListManagedContainers(ctx context.Context) ([]string, error)

	Close() error
}
