package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/giantswarm/pgenv/internal/fileutil"
	"github.com/giantswarm/pgenv/internal/sentinel"
)

// ErrAlreadyStarted is returned by Start when the server is already running.
// The running process is left untouched.
const ErrAlreadyStarted = sentinel.Error("server already running")

// ErrNotStarted is returned by Stop when the server was never started.
// Stopping a never-started server is a program logic bug worth surfacing
// loudly, so it is an error rather than a no-op.
const ErrNotStarted = sentinel.Error("server not started")

// ErrAlreadyStopped is returned by Start and Stop once the server has been
// stopped. Stopped is terminal: a new server is required to start again.
const ErrAlreadyStopped = sentinel.Error("server already stopped")

// ErrCleanup wraps data directory cleanup failures reported by Stop. The
// server still transitions to stopped; the error is warning-class, telling
// the caller the sweep was incomplete.
const ErrCleanup = sentinel.Error("data directory cleanup incomplete")

// ErrUnknownVersion is wrapped by Runtime implementations when a version
// identifier does not correspond to any published release.
const ErrUnknownVersion = sentinel.Error("unknown postgres version")

// state is the lifecycle position of a Server.
type state int

const (
	stateUnstarted state = iota
	stateRunning
	stateStopped
)

// ServerConfig carries the construction parameters of a Server. All fields
// except DataDir are required; the root package fills in defaults before
// calling NewServer.
type ServerConfig struct {
	// Version of the engine release to run; VersionLatest is allowed.
	Version string

	// DataDir is the cluster storage directory. Empty means transient: a
	// fresh temporary directory is created per start and deleted on stop.
	DataDir string

	// Timeouts bound the blocking phases of Start and Stop.
	Timeouts Timeouts

	// Runtime is the default artifact runtime, used unless a Start call
	// injects its own.
	Runtime Runtime

	// Ports is the default free-port allocator, used when a Start call
	// supplies no explicit port.
	Ports PortAllocator

	// Environment is the default runtime environment handed to the
	// artifact runtime, used unless a Start call injects its own.
	Environment *Environment
}

// StartParams are the per-start overrides of the single full-parameter start
// operation. Zero values mean "use the default": empty host becomes
// DefaultHost, zero port is taken from the port allocator, nil InitParams
// become DefaultInitParams, and so on.
type StartParams struct {
	Environment *Environment
	Host        string
	Port        int
	Database    string
	Username    string
	Password    string
	InitParams  []string
	Runtime     Runtime
	Ports       PortAllocator
}

// Server owns a single postgres process lifecycle: it turns its
// configuration into a running server process exactly once, exposes the
// connection string, and deterministically tears the process down.
//
// A Server is not designed for concurrent Start/Stop calls; the internal
// mutex makes misuse safe rather than supported. Multiple independent
// Servers may run concurrently with no shared mutable state between them
// except the read-only Environment.
type Server struct {
	cfg ServerConfig

	mu      sync.Mutex
	state   state
	config  *Config // set by a successful Start; retained after Stop
	process Process // set by a successful Start; cleared by Stop

	log *slog.Logger
}

// NewServer creates a Server from the given configuration. Panics if a
// required collaborator or bound is missing, since the configuration is
// assembled by code and an invalid value is a programmer error.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Version == "" {
		panic("pgenv: server version must not be empty")
	}
	if cfg.Runtime == nil {
		panic("pgenv: server runtime must not be nil")
	}
	if cfg.Ports == nil {
		panic("pgenv: server port allocator must not be nil")
	}
	if cfg.Environment == nil {
		panic("pgenv: server environment must not be nil")
	}
	if cfg.Timeouts.Start <= 0 || cfg.Timeouts.Stop <= 0 {
		panic("pgenv: server timeouts must be positive")
	}
	return &Server{
		cfg: cfg,
		log: Logger().With("version", cfg.Version),
	}
}

// Start builds a fresh Config from params, defaults, and the server's stored
// version and data directory, then drives the artifact runtime through
// resolve, prepare, and launch. On success the connection URL is returned
// and the server is running.
//
// On failure the server remains unstarted with no partial state: a transient
// directory created for the attempt is removed, an allocated port is
// released, and a retried Start is safe.
func (s *Server) Start(ctx context.Context, params StartParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return "", ErrAlreadyStarted
	case stateStopped:
		return "", ErrAlreadyStopped
	case stateUnstarted:
	}

	// Configuration errors surface before any I/O.
	if !ValidVersion(s.cfg.Version) {
		return "", fmt.Errorf("malformed version %q", s.cfg.Version)
	}

	runtime := s.cfg.Runtime
	if params.Runtime != nil {
		runtime = params.Runtime
	}
	env := s.cfg.Environment
	if params.Environment != nil {
		env = params.Environment
	}
	ports := s.cfg.Ports
	if params.Ports != nil {
		ports = params.Ports
	}

	port := params.Port
	allocated := false
	if port == 0 {
		p, err := ports.AcquireFreePort()
		if err != nil {
			return "", fmt.Errorf("acquire free port: %w", err)
		}
		port = p
		allocated = true
	}
	releasePort := func() {
		if !allocated {
			return
		}
		if r, ok := ports.(portReleaser); ok {
			r.Release(port)
		}
	}

	conf := Config{
		Version: s.cfg.Version,
		Net: Net{
			Host: valueOr(params.Host, DefaultHost),
			Port: port,
		},
		Storage: Storage{
			Database:  valueOr(params.Database, DefaultDatabase),
			Directory: s.cfg.DataDir,
			Transient: s.cfg.DataDir == "",
		},
		Timeouts: s.cfg.Timeouts,
		Credentials: Credentials{
			Username: valueOr(params.Username, DefaultUser),
			Password: valueOr(params.Password, DefaultPassword),
		},
		InitParams: initParamsOrDefault(params.InitParams),
	}
	if err := conf.Validate(); err != nil {
		releasePort()
		return "", fmt.Errorf("invalid configuration: %w", err)
	}

	if conf.Storage.Transient {
		dir, err := os.MkdirTemp("", "pgenv-data-")
		if err != nil {
			releasePort()
			return "", fmt.Errorf("create transient data directory: %w", err)
		}
		conf.Storage.Directory = dir
	} else if err := fileutil.EnsureDir(conf.Storage.Directory); err != nil {
		releasePort()
		return "", err
	}

	// The only point that may block on network, disk extraction, and
	// process spawn; bounded by the start timeout.
	startCtx, cancel := context.WithTimeout(ctx, conf.Timeouts.Start)
	defer cancel()

	proc, err := s.launch(startCtx, runtime, env, conf)
	if err != nil {
		if conf.Storage.Transient {
			if rmErr := os.RemoveAll(conf.Storage.Directory); rmErr != nil {
				s.log.Warn("remove transient data directory after failed start",
					"dir", conf.Storage.Directory, "error", rmErr)
			}
		}
		releasePort()
		return "", err
	}

	s.config = &conf
	s.process = proc
	s.state = stateRunning
	s.log.Info("postgres started",
		"host", conf.Net.Host, "port", conf.Net.Port,
		"database", conf.Storage.Database, "dir", conf.Storage.Directory)
	return conf.ConnectionURL(), nil
}

// launch drives the artifact runtime's resolve, prepare, launch chain.
func (s *Server) launch(ctx context.Context, runtime Runtime, env *Environment, conf Config) (Process, error) {
	dist, err := runtime.Resolve(ctx, conf.Version)
	if err != nil {
		return nil, fmt.Errorf("resolve version %s: %w", conf.Version, err)
	}
	exe, err := dist.Prepare(ctx, conf, env)
	if err != nil {
		return nil, fmt.Errorf("prepare distribution %s: %w", dist.Version(), err)
	}
	proc, err := exe.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch postgres %s: %w", dist.Version(), err)
	}
	return proc, nil
}

// Stop terminates the running process and applies the cleanup policy:
// transient storage is swept from disk, persistent storage is left
// untouched. The server transitions to stopped regardless of cleanup
// success; sweep failures are reported wrapped in ErrCleanup.
//
// Stopping a server that is not running is a lifecycle-misuse error:
// ErrNotStarted before the first Start, ErrAlreadyStopped afterwards.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateUnstarted:
		return ErrNotStarted
	case stateStopped:
		return ErrAlreadyStopped
	case stateRunning:
	}
	return s.stopLocked()
}

// Close is the scoped-release counterpart of Stop, intended for defer.
// Unlike an explicit Stop, closing a server that is not running is a silent
// no-op, so automatic teardown paths that run even when Start was never
// reached cannot produce spurious failures.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return nil
	}
	return s.stopLocked()
}

// stopLocked performs the actual stop. Callers must hold s.mu and have
// verified the server is running.
func (s *Server) stopLocked() error {
	// Recover the storage location from the process handle rather than the
	// stored config; the handle is authoritative for what was launched.
	storage := s.process.Config().Storage

	termErr := s.process.Terminate(s.config.Timeouts.Stop)
	if termErr != nil {
		termErr = fmt.Errorf("terminate postgres: %w", termErr)
		s.log.Warn("postgres termination reported an error", "error", termErr)
	}

	var cleanupErr error
	if storage.Transient {
		if err := sweepTree(storage.Directory, s.log); err != nil {
			cleanupErr = fmt.Errorf("%w: %w", ErrCleanup, err)
		}
	}

	// Process termination, not cleanup success, is the terminal condition.
	s.process = nil
	s.state = stateStopped
	s.log.Info("postgres stopped", "transient", storage.Transient)

	return errors.Join(termErr, cleanupErr)
}

// Config returns the configuration of the started server and true, or a zero
// Config and false if Start has not succeeded. The returned value is a copy;
// mutating it cannot affect the server.
func (s *Server) Config() (Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return Config{}, false
	}
	c := *s.config
	c.InitParams = slices.Clone(c.InitParams)
	return c, true
}

// Process returns the live process handle and true while the server is
// running, or nil and false otherwise. The handle is not retained after Stop.
func (s *Server) Process() (Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.process == nil {
		return nil, false
	}
	return s.process, true
}

// ConnectionURL returns the connection string of the started server and
// true, or an empty string and false if Start has not succeeded. The URL
// remains available after Stop, matching the retained configuration.
func (s *Server) ConnectionURL() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return "", false
	}
	return s.config.ConnectionURL(), true
}

// valueOr returns v, or def when v is empty.
func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// initParamsOrDefault clones the caller's params, or derives a fresh default
// list. The defaults are constant data; every start works on its own copy.
func initParamsOrDefault(params []string) []string {
	if params == nil {
		return DefaultInitParams()
	}
	return slices.Clone(params)
}
