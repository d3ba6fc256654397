package pgenv

import "github.com/giantswarm/pgenv/internal/core"

// Sentinel errors of the server lifecycle. Match them with errors.Is; they
// may arrive wrapped with call-site context.
const (
	// ErrAlreadyStarted is returned by Start while the server is running.
	ErrAlreadyStarted = core.ErrAlreadyStarted

	// ErrNotStarted is returned by Stop before the first Start.
	ErrNotStarted = core.ErrNotStarted

	// ErrAlreadyStopped is returned by Start and Stop once the server has
	// been stopped; stopped is terminal.
	ErrAlreadyStopped = core.ErrAlreadyStopped

	// ErrCleanup wraps transient data directory sweep failures reported by
	// Stop. The server still transitions to stopped.
	ErrCleanup = core.ErrCleanup

	// ErrUnknownVersion is wrapped by runtime resolution when a version
	// identifier does not correspond to any published release.
	ErrUnknownVersion = core.ErrUnknownVersion
)
