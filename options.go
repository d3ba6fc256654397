package pgenv

import (
	"fmt"
	"time"

	"github.com/giantswarm/pgenv/internal/core"
)

// Option configures a Server at construction time.
type Option func(*serverSettings)

// WithVersion selects the engine release to run: "latest" (the default), or
// a concrete identifier such as "17", "17.2" or "17.2.0". Panics on a
// malformed identifier; versions are written by the developer, so a bad one
// is a programmer error caught at construction rather than at Start.
func WithVersion(version string) Option {
	if !core.ValidVersion(version) {
		panic(fmt.Sprintf("pgenv: malformed version %q", version))
	}
	return func(s *serverSettings) {
		s.version = version
	}
}

// WithDataDir stores the cluster in dir instead of a transient directory.
// The directory is created if missing, reused (including existing data) if
// already initialized, and never deleted by Stop. Panics if dir is empty.
func WithDataDir(dir string) Option {
	requireNonEmpty(dir, "data directory")
	return func(s *serverSettings) {
		s.dataDir = dir
	}
}

// WithStartTimeout bounds binary resolution, download, cluster
// initialization, and the readiness wait. Panics if d is not positive.
func WithStartTimeout(d time.Duration) Option {
	requirePositive(d, "start timeout")
	return func(s *serverSettings) {
		s.startTimeout = d
	}
}

// WithStopTimeout bounds the graceful shutdown wait before the server is
// killed. Panics if d is not positive.
func WithStopTimeout(d time.Duration) Option {
	requirePositive(d, "stop timeout")
	return func(s *serverSettings) {
		s.stopTimeout = d
	}
}

// StartOption overrides one start parameter of a single Start call.
// Unset parameters use the package defaults.
type StartOption func(*startSettings)

// StartHost binds the server to host instead of DefaultHost.
// Panics if host is empty.
func StartHost(host string) StartOption {
	requireNonEmpty(host, "host")
	return func(s *startSettings) {
		s.Host = host
	}
}

// StartPort binds the server to an explicit port instead of an OS-assigned
// free one. Panics if port is outside the valid range.
func StartPort(port int) StartOption {
	if port < 1 || port > 65535 {
		panic(fmt.Sprintf("pgenv: port must be between 1 and 65535, got %d", port))
	}
	return func(s *startSettings) {
		s.Port = port
	}
}

// StartDatabase creates and connects to the named database instead of the
// bootstrap "postgres" database. Panics if name is empty.
func StartDatabase(name string) StartOption {
	requireNonEmpty(name, "database name")
	return func(s *startSettings) {
		s.Database = name
	}
}

// StartCredentials creates the cluster superuser with the given credentials
// instead of the postgres/postgres default. Panics if username is empty.
func StartCredentials(username, password string) StartOption {
	requireNonEmpty(username, "username")
	return func(s *startSettings) {
		s.Username = username
		s.Password = password
	}
}

// StartInitParams replaces the default cluster initialization parameters.
// The slice is passed to initdb verbatim; an explicit empty non-nil slice
// means "no extra parameters".
func StartInitParams(params []string) StartOption {
	return func(s *startSettings) {
		s.InitParams = params
	}
}

// StartEnvironment uses env instead of the shared default environment for
// this start. Panics if env is nil.
func StartEnvironment(env *Environment) StartOption {
	if env == nil {
		panic("pgenv: start environment must not be nil")
	}
	return func(s *startSettings) {
		s.Environment = env
	}
}

// StartRuntime substitutes the artifact runtime for this start. The main
// use is injecting a fake runtime in tests of code built on pgenv.
// Panics if rt is nil.
func StartRuntime(rt Runtime) StartOption {
	if rt == nil {
		panic("pgenv: start runtime must not be nil")
	}
	return func(s *startSettings) {
		s.Runtime = rt
	}
}

// StartPortAllocator substitutes the free-port allocator for this start.
// Panics if pa is nil.
func StartPortAllocator(pa PortAllocator) StartOption {
	if pa == nil {
		panic("pgenv: start port allocator must not be nil")
	}
	return func(s *startSettings) {
		s.Ports = pa
	}
}

// requireNonEmpty panics with a field-specific message when v is empty.
// Option arguments are written by the developer, so an empty one is a
// programmer error surfaced at option construction.
func requireNonEmpty(v, field string) {
	if v == "" {
		panic(fmt.Sprintf("pgenv: %s must not be empty", field))
	}
}

// requirePositive panics when d is not positive.
func requirePositive(d time.Duration, field string) {
	if d <= 0 {
		panic(fmt.Sprintf("pgenv: %s must be positive, got %v", field, d))
	}
}
