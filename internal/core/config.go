package core

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// VersionLatest is the symbolic version identifier resolved to the newest
// production release published by the binary repository at start time.
const VersionLatest = "latest"

// Default configuration values. These are part of the observable contract:
// existing test suites connect with these canonical credentials when no
// overrides are supplied.
const (
	// DefaultUser is the superuser name created by initdb.
	DefaultUser = "postgres"

	// DefaultPassword is the password assigned to the default superuser.
	DefaultPassword = "postgres"

	// DefaultDatabase is the database name placed in the connection URL.
	// It is the bootstrap database initdb creates, so no CREATE DATABASE
	// round-trip is needed when it is not overridden.
	DefaultDatabase = "postgres"

	// DefaultHost is the address the server binds to.
	DefaultHost = "localhost"

	// DefaultVersion is the engine release started when no version is
	// configured.
	DefaultVersion = VersionLatest

	// DefaultStartTimeout bounds binary resolution, extraction, process
	// spawn, and the readiness wait. Cold-cache starts download and extract
	// the distribution, which can take tens of seconds.
	DefaultStartTimeout = 60 * time.Second

	// DefaultStopTimeout bounds the graceful shutdown wait before the
	// server is killed.
	DefaultStopTimeout = 10 * time.Second
)

// DefaultInitParams returns the initialization parameters appended to initdb
// when the caller supplies no override. The locale/encoding pins make test
// behavior deterministic and independent of the host locale.
//
// A fresh slice is returned on every call so a caller can never mutate the
// defaults of a later start.
func DefaultInitParams() []string {
	return []string{"-E", "SQL_ASCII", "--locale=C", "--lc-collate=C", "--lc-ctype=C"}
}

// versionPattern matches release identifiers such as "17", "17.2" and
// "17.2.0". Anything else (except VersionLatest) is a configuration error.
var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+){0,2}$`)

// ValidVersion reports whether v is VersionLatest or a well-formed release
// identifier.
func ValidVersion(v string) bool {
	return v == VersionLatest || versionPattern.MatchString(v)
}

// Net is the network binding of a server instance.
type Net struct {
	Host string
	Port int
}

// Storage describes where the server keeps its database cluster.
// Transient directories are created by the manager itself and deleted on
// stop; persistent directories are supplied by the caller and never touched.
type Storage struct {
	Database  string
	Directory string
	Transient bool
}

// Credentials are the superuser credentials initdb creates the cluster with.
type Credentials struct {
	Username string
	Password string
}

// Timeouts bounds the blocking phases of the lifecycle.
type Timeouts struct {
	Start time.Duration
	Stop  time.Duration
}

// Config is the immutable description of one server instance's version,
// network, storage, credential, and timeout parameters. A fresh Config is
// derived on every Start call; it is never mutated after creation.
type Config struct {
	Version     string
	Net         Net
	Storage     Storage
	Timeouts    Timeouts
	Credentials Credentials

	// InitParams are appended to the cluster initialization command.
	InitParams []string
}

// Validate checks the configuration fields that can be verified without any
// I/O. The storage directory is deliberately not checked: for transient
// storage it does not exist yet at validation time.
func (c Config) Validate() error {
	if !ValidVersion(c.Version) {
		return fmt.Errorf("malformed version %q", c.Version)
	}
	if c.Net.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.Net.Port < 1 || c.Net.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Net.Port)
	}
	if c.Storage.Database == "" {
		return errors.New("database name must not be empty")
	}
	if c.Credentials.Username == "" {
		return errors.New("username must not be empty")
	}
	if c.Timeouts.Start <= 0 {
		return errors.New("start timeout must be positive")
	}
	if c.Timeouts.Stop <= 0 {
		return errors.New("stop timeout must be positive")
	}
	return nil
}

// ConnectionURL returns the connection string for this configuration.
func (c Config) ConnectionURL() string {
	return ConnectionURL(c.Net.Host, c.Net.Port, c.Storage.Database,
		c.Credentials.Username, c.Credentials.Password)
}

// ConnectionURL formats the fixed connection string template
//
//	jdbc:postgresql://{host}:{port}/{dbName}?user={user}&password={password}
//
// consumed literally by existing test suites. No escaping beyond basic
// substitution is performed; credentials containing reserved URL characters
// are a known limitation.
func ConnectionURL(host string, port int, dbName, user, password string) string {
	return fmt.Sprintf("jdbc:postgresql://%s:%d/%s?user=%s&password=%s",
		host, port, dbName, user, password)
}
