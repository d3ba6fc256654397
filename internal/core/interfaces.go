package core

import (
	"context"
	"time"
)

// Runtime resolves engine versions into launchable distributions. It is the
// collaborator that owns binary artifact resolution, caching, and download;
// the lifecycle manager only drives it.
//
// Implementations must be safe for use by multiple servers concurrently:
// one Runtime is typically shared by every server in a test binary.
type Runtime interface {
	// Resolve maps a version identifier (including VersionLatest) to a
	// concrete distribution. Fails with an error wrapping ErrUnknownVersion
	// if the version does not exist, and with an ordinary I/O error if the
	// repository is unreachable.
	Resolve(ctx context.Context, version string) (Distribution, error)
}

// Distribution is a resolved engine release for the current platform.
type Distribution interface {
	// Version returns the concrete release identifier, with VersionLatest
	// already resolved.
	Version() string

	// Prepare materializes an executable for the given configuration:
	// download and extraction on a cold store, reuse on a warm one.
	// This is the step that may block on network and disk for tens of
	// seconds; it must honor ctx cancellation.
	Prepare(ctx context.Context, cfg Config, env *Environment) (Executable, error)
}

// Executable is a prepared server binary bound to one Config, ready to launch.
type Executable interface {
	// Launch initializes the cluster if needed, starts the server process,
	// and blocks until it accepts connections or ctx expires. The returned
	// Process is exclusively owned by the lifecycle manager.
	Launch(ctx context.Context) (Process, error)
}

// Process is a handle to the live server process plus the configuration it
// was started with. It is created by Launch, owned by the manager between
// start and stop, and must not be retained after Terminate.
type Process interface {
	// Terminate performs a best-effort graceful stop bounded by timeout.
	Terminate(timeout time.Duration) error

	// Config returns the configuration the process was started with. The
	// manager uses it to recover the storage location during cleanup.
	Config() Config
}

// PortAllocator acquires unused local ports for servers started without an
// explicit port. Allocation is best-effort: a port free at acquisition time
// may be taken by another OS process before the server binds it.
type PortAllocator interface {
	AcquireFreePort() (int, error)
}

// portReleaser is an optional extension of PortAllocator. When a start
// attempt fails after acquiring a port, the manager returns the port to
// allocators that support it so the registry does not leak reservations.
type portReleaser interface {
	Release(port int)
}
