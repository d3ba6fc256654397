package pgenv

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/pgenv/internal/artifact"
	"github.com/giantswarm/pgenv/internal/core"
	"github.com/giantswarm/pgenv/internal/netutil"
)

// The default runtime and port allocator are shared by every Server in the
// process: the store deduplicates concurrent downloads and the allocator's
// registry prevents two servers from being handed the same port.
var (
	defaultRuntime = sync.OnceValue(func() core.Runtime {
		return artifact.NewStore(artifact.StoreConfig{})
	})
	defaultPorts = sync.OnceValue(func() core.PortAllocator {
		return netutil.NewAllocator(core.Logger())
	})
)

// Server manages the lifecycle of one embedded PostgreSQL instance:
// Unstarted until Start succeeds, Running until Stop or Close, then
// terminally Stopped.
type Server struct {
	srv *core.Server
}

// New creates a Server with the given options. Unset options fall back to
// package defaults: the latest published release, a transient data
// directory, DefaultStartTimeout and DefaultStopTimeout, the shared artifact
// store under the OS temporary directory, and an OS-assigned free port.
//
// New performs no I/O; binaries are resolved and downloaded on Start.
func New(opts ...Option) *Server {
	cfg := serverSettings{
		version:      core.DefaultVersion,
		startTimeout: core.DefaultStartTimeout,
		stopTimeout:  core.DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv := core.NewServer(core.ServerConfig{
		Version: cfg.version,
		DataDir: cfg.dataDir,
		Timeouts: core.Timeouts{
			Start: cfg.startTimeout,
			Stop:  cfg.stopTimeout,
		},
		Runtime:     defaultRuntime(),
		Ports:       defaultPorts(),
		Environment: DefaultEnvironment(),
	})
	return &Server{srv: srv}
}

// Start launches the server and returns its connection URL in the form
//
//	jdbc:postgresql://{host}:{port}/{dbName}?user={user}&password={password}
//
// Binary resolution, download, cluster initialization, and the readiness
// wait all happen here, bounded by the start timeout and ctx.
//
// Start fails with ErrAlreadyStarted while the server is running and with
// ErrAlreadyStopped after it stopped. A failed start leaves the server
// unstarted with no partial state; retrying is safe.
func (s *Server) Start(ctx context.Context, opts ...StartOption) (string, error) {
	var settings startSettings
	for _, opt := range opts {
		opt(&settings)
	}
	return s.srv.Start(ctx, core.StartParams(settings))
}

// Stop terminates the running server and sweeps its transient data
// directory. Persistent (caller-supplied) directories are never touched.
//
// Stop on a server that is not running is an error: ErrNotStarted before the
// first Start, ErrAlreadyStopped after a previous stop. Cleanup failures are
// reported wrapped in ErrCleanup while the server still transitions to
// stopped.
func (s *Server) Stop() error {
	return s.srv.Stop()
}

// Close stops the server if it is running and is a silent no-op otherwise.
// It is the defer-friendly counterpart of Stop: teardown paths that run even
// when Start never happened produce no spurious errors.
func (s *Server) Close() error {
	return s.srv.Close()
}

// Config returns the effective configuration of the started server and true,
// or a zero Config and false before a successful Start. The configuration
// remains available after Stop.
func (s *Server) Config() (Config, bool) {
	return s.srv.Config()
}

// Process returns the live process handle and true while the server is
// running, or nil and false otherwise.
func (s *Server) Process() (Process, bool) {
	return s.srv.Process()
}

// ConnectionURL returns the connection string of the started server and
// true, or an empty string and false before a successful Start. The URL
// remains available after Stop.
func (s *Server) ConnectionURL() (string, bool) {
	return s.srv.ConnectionURL()
}

// serverSettings collects the construction-time options of New.
type serverSettings struct {
	version      string
	dataDir      string
	startTimeout time.Duration
	stopTimeout  time.Duration
}

// startSettings collects the per-start options. It mirrors the internal
// start parameters so the conversion in Start is a plain type conversion.
type startSettings core.StartParams
