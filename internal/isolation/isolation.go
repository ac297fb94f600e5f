package isolation

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrImageUnavailable means the runtime image could not be pulled.
	// Every waiter on the same pull receives it.
	ErrImageUnavailable = errors.New("image unavailable")

	// ErrEnvironmentStart means the backend refused or failed to create
	// or start an environment.
	ErrEnvironmentStart = errors.New("environment start error")

	// ErrInfrastructure means the isolation backend is unreachable
	// entirely, as opposed to rejecting one request.
	ErrInfrastructure = errors.New("isolation backend unreachable")
)

// NetworkPolicy controls an environment's network access.
type NetworkPolicy string

const (
	NetworkNone   NetworkPolicy = "none"
	NetworkBridge NetworkPolicy = "bridge"
)

// FilesystemPolicy controls whether the environment's root filesystem is
// writable. The workspace bind mount is always writable.
type FilesystemPolicy string

const (
	FilesystemReadonly  FilesystemPolicy = "readonly"
	FilesystemReadwrite FilesystemPolicy = "readwrite"
)

// BindMount maps a host path into the environment.
type BindMount struct {
	HostPath      string
	ContainerPath string
}

// EnvironmentSpec is the concrete creation contract consumed from the
// isolation backend.
type EnvironmentSpec struct {
	Image            string
	Argv             []string
	WorkingDir       string
	BindMounts       []BindMount
	MemoryBytes      int64
	CPUQuotaFraction float64
	PidsLimit        int64
	NetworkPolicy    NetworkPolicy
	FilesystemPolicy FilesystemPolicy
	AutoRemove       bool

	// TTY and OpenStdin are set for interactive sessions; batch
	// executions attach a plain stdin pipe without a pseudo-terminal.
	TTY       bool
	OpenStdin bool

	Labels map[string]string
}

// ExitStatus is the terminal outcome of an environment's main process.
type ExitStatus struct {
	ExitCode int64
}

// AttachedStreams is a bidirectional connection to an environment's
// stdio. Writes go to stdin; CloseWrite signals EOF to the running
// program. For non-TTY environments the read side carries the backend's
// multiplexed stdout/stderr framing (see DemuxOutput).
type AttachedStreams interface {
	io.Reader
	io.Writer

	// CloseWrite half-closes the stdin side.
	CloseWrite() error

	// Close tears down the whole attachment.
	Close()
}

// Backend is the isolation backend contract. The Docker implementation is
// authoritative; tests substitute fakes.
type Backend interface {
	// EnsureImage makes the runtime image locally available, pulling it
	// at most once per image across concurrent callers.
	EnsureImage(ctx context.Context, image string) error

	// CreateEnvironment creates (but does not start) an environment and
	// returns its backend id.
	CreateEnvironment(ctx context.Context, spec EnvironmentSpec) (string, error)

	StartEnvironment(ctx context.Context, id string) error

	// AttachEnvironment connects to the environment's stdio. Must be
	// called before start so no output is missed.
	AttachEnvironment(ctx context.Context, id string) (AttachedStreams, error)

	// WaitEnvironment returns channels that deliver the environment's
	// exit status or a wait failure. Must be called before start.
	WaitEnvironment(ctx context.Context, id string) (<-chan ExitStatus, <-chan error)

	StopEnvironment(ctx context.Context, id string) error

	// RemoveEnvironment force-removes the environment. Safe to call on
	// environments that already exited under auto-remove.
	RemoveEnvironment(ctx context.Context, id string) error

	// ResizeEnvironment resizes the environment's pseudo-terminal.
	ResizeEnvironment(ctx context.Context, id string, cols, rows uint) error
}
