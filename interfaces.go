package pgenv

import "github.com/giantswarm/pgenv/internal/core"

// The public surface of the configuration and collaborator types lives in
// the internal core package; these aliases re-export them so callers only
// ever import pgenv.
type (
	// Config is the immutable description of one server instance.
	Config = core.Config

	// Net is the network binding of a server instance.
	Net = core.Net

	// Storage describes where a server keeps its database cluster.
	Storage = core.Storage

	// Credentials are the superuser credentials the cluster is created with.
	Credentials = core.Credentials

	// Timeouts bounds the blocking phases of the lifecycle.
	Timeouts = core.Timeouts

	// Environment carries the artifact store location and command
	// post-processing shared by servers.
	Environment = core.Environment

	// CommandPostProcessor rewrites a launch command line before spawn.
	CommandPostProcessor = core.CommandPostProcessor

	// Runtime resolves engine versions into launchable distributions.
	// Implement it to substitute your own binary provisioning in tests.
	Runtime = core.Runtime

	// Distribution is a resolved engine release for the current platform.
	Distribution = core.Distribution

	// Executable is a prepared server binary bound to one Config.
	Executable = core.Executable

	// Process is a handle to the live server process.
	Process = core.Process

	// PortAllocator acquires unused local ports for servers started without
	// an explicit port.
	PortAllocator = core.PortAllocator
)
