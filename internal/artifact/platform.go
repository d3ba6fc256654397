package artifact

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/giantswarm/pgenv/internal/core"
)

// osName maps a GOOS value to the operating system component of the binary
// repository's artifact naming scheme.
func osName(goos string) string {
	// The repository publishes under the same names Go uses for the three
	// supported platforms.
	return goos
}

// archName maps a GOARCH value to the architecture component of the binary
// repository's artifact naming scheme.
func archName(goarch string) string {
	switch goarch {
	case "arm64":
		return "arm64v8"
	case "arm":
		return "arm32v7"
	case "386":
		return "i386"
	default:
		return goarch
	}
}

// platformKey returns the os-arch key used both in artifact coordinates and
// as the store subdirectory for the current platform.
func platformKey() string {
	return osName(runtime.GOOS) + "-" + archName(runtime.GOARCH)
}

// artifactID returns the repository artifact identifier for the current
// platform, e.g. "embedded-postgres-binaries-linux-amd64".
func artifactID() string {
	return "embedded-postgres-binaries-" + platformKey()
}

// jarURL returns the download URL of the binary jar for a concrete version.
func jarURL(mirror, version string) string {
	id := artifactID()
	return fmt.Sprintf("%s/%s/%s/%s-%s.jar", mirror, id, version, id, version)
}

// metadataURL returns the URL of the artifact's version metadata document.
func metadataURL(mirror string) string {
	return fmt.Sprintf("%s/%s/maven-metadata.xml", mirror, artifactID())
}

// AdjustCommand rewrites a server launch command for platforms where the
// invoking user may hold elevated privileges. On Windows with an elevated
// invoker, the postgres server binary refuses to run, so the command is
// wrapped in runas at a reduced trust level. On every other platform, or when
// the command is not the server binary, argv is returned unchanged.
//
// The platform and elevation state are injected so the rewrite is a pure
// function, unit-testable independent of actual OS detection.
func AdjustCommand(goos string, elevated bool, argv []string) []string {
	if goos != "windows" || !elevated {
		return argv
	}
	if len(argv) == 0 || !strings.HasSuffix(argv[0], "postgres.exe") {
		return argv
	}
	return []string{
		"runas",
		"/trustlevel:0x20000",
		fmt.Sprintf("%q", strings.Join(argv, " ")),
	}
}

// detectElevated reports whether the current user appears to hold elevated
// privileges on the given platform. Detection is best-effort and fail-open:
// on any detection failure the answer is false, because failing to start a
// test database is worse than running with default privileges in a
// disposable test environment.
//
// On Windows, "net session" succeeds only in an elevated shell.
func detectElevated(goos string) bool {
	if goos != "windows" {
		return false
	}
	return exec.Command("net", "session").Run() == nil
}

// PrivilegePostProcessor builds the command post-processor attached to
// runtime environments. Elevation is detected once at build time, mirroring
// the environment's build-once, reuse-everywhere contract. Returns nil when
// the platform needs no rewriting.
func PrivilegePostProcessor() core.CommandPostProcessor {
	goos := runtime.GOOS
	if !detectElevated(goos) {
		return nil
	}
	return func(argv []string) []string {
		return AdjustCommand(goos, true, argv)
	}
}
