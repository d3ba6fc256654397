package pgenv

import (
	"os"
	"path/filepath"

	"github.com/giantswarm/pgenv/internal/artifact"
	"github.com/giantswarm/pgenv/internal/core"
)

// DefaultStoreDirName is the directory under the OS temporary directory
// where DefaultEnvironment keeps downloaded distributions.
const DefaultStoreDirName = "pgenv-store"

// DefaultEnvironment returns the shared runtime environment: the artifact
// store under the OS temporary directory, with privilege post-processing
// attached on platforms that need it. All servers created by New share it,
// so one download serves every test in a run.
func DefaultEnvironment() *Environment {
	return core.NewEnvironment(
		filepath.Join(os.TempDir(), DefaultStoreDirName),
		artifact.PrivilegePostProcessor(),
	)
}

// CachedEnvironment returns a runtime environment with the artifact store at
// dir, for callers that want distributions cached in a location that
// survives reboots (the OS temporary directory usually does not). Panics if
// dir is empty.
func CachedEnvironment(dir string) *Environment {
	if dir == "" {
		panic("pgenv: cached environment directory must not be empty")
	}
	return core.NewEnvironment(dir, artifact.PrivilegePostProcessor())
}
