package pgenv

import "github.com/giantswarm/pgenv/internal/core"

// VersionLatest is the symbolic version identifier resolved to the newest
// published release at start time.
const VersionLatest = core.VersionLatest

// Default configuration values applied when no option overrides them. The
// credentials and database name are part of the observable contract: they
// appear verbatim in connection URLs of servers started with defaults.
const (
	DefaultUser         = core.DefaultUser
	DefaultPassword     = core.DefaultPassword
	DefaultDatabase     = core.DefaultDatabase
	DefaultHost         = core.DefaultHost
	DefaultVersion      = core.DefaultVersion
	DefaultStartTimeout = core.DefaultStartTimeout
	DefaultStopTimeout  = core.DefaultStopTimeout
)

// DefaultInitParams returns the cluster initialization parameters used when
// StartInitParams is not given: SQL_ASCII encoding and the C locale, pinning
// sort order and encoding independent of the host. A fresh slice is returned
// on every call.
func DefaultInitParams() []string {
	return core.DefaultInitParams()
}

// ConnectionURL formats the fixed connection string template
//
//	jdbc:postgresql://{host}:{port}/{dbName}?user={user}&password={password}
//
// used by Start's return value. No escaping beyond substitution is done;
// credentials containing reserved URL characters are a known limitation.
func ConnectionURL(host string, port int, dbName, user, password string) string {
	return core.ConnectionURL(host, port, dbName, user, password)
}
