package artifact

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/pgenv/internal/core"
	"github.com/giantswarm/pgenv/internal/fileutil"
	"github.com/giantswarm/pgenv/internal/postgres"
)

// DefaultMirror is the base URL of the binary repository the store resolves
// and downloads from.
const DefaultMirror = "https://repo1.maven.org/maven2/io/zonky/test/postgres"

// downloadTimeout is the per-request fallback timeout of the default HTTP
// client. Callers normally bound downloads tighter via ctx.
const downloadTimeout = 5 * time.Minute

// Compile-time interface satisfaction checks.
var (
	_ core.Runtime      = (*Store)(nil)
	_ core.Distribution = (*distribution)(nil)
)

// StoreConfig configures a Store. The zero value is usable: every field has
// a default.
type StoreConfig struct {
	Mirror string       // Base URL of the binary repository (default: DefaultMirror)
	Client *http.Client // HTTP client for metadata and jar downloads
	Logger *slog.Logger // Optional logger (defaults to the package logger)
}

// Store is the default artifact runtime. It resolves version identifiers
// against the binary repository, downloads platform jars, and extracts their
// txz payload into a per-version cache directory under the environment's
// store dir.
//
// A Store is safe for concurrent use by multiple servers: concurrent
// prepares of the same version within one process are deduplicated with
// singleflight, and the store directory itself is guarded by a file lock so
// concurrent test processes sharing a cache do not corrupt it.
type Store struct {
	mirror string
	client *http.Client
	group  singleflight.Group
	log    *slog.Logger
}

// NewStore creates a Store from cfg, filling in defaults for unset fields.
// NewStore performs no I/O; all network and disk work happens in Resolve and
// Prepare.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Mirror == "" {
		cfg.Mirror = DefaultMirror
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: downloadTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = core.Logger()
	}
	return &Store{
		mirror: cfg.Mirror,
		client: cfg.Client,
		log:    cfg.Logger,
	}
}

// Resolve maps a version identifier to a concrete distribution for the
// current platform. VersionLatest is resolved against the repository's
// release metadata; concrete identifiers are accepted as-is after a format
// check. No binary is downloaded here.
func (s *Store) Resolve(ctx context.Context, version string) (core.Distribution, error) {
	if !core.ValidVersion(version) {
		return nil, fmt.Errorf("%q: %w", version, core.ErrUnknownVersion)
	}
	if version == core.VersionLatest {
		release, err := s.fetchReleaseVersion(ctx)
		if err != nil {
			return nil, err
		}
		s.log.Debug("resolved latest release", "version", release)
		version = release
	}
	return &distribution{store: s, version: version}, nil
}

// mavenMetadata is the subset of the repository's version metadata document
// the store needs.
type mavenMetadata struct {
	Release  string   `xml:"versioning>release"`
	Latest   string   `xml:"versioning>latest"`
	Versions []string `xml:"versioning>versions>version"`
}

// fetchReleaseVersion downloads and parses the artifact's version metadata,
// returning the newest release identifier.
func (s *Store) fetchReleaseVersion(ctx context.Context) (string, error) {
	url := metadataURL(s.mirror)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build metadata request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch version metadata: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("no release metadata for %s: %w", artifactID(), core.ErrUnknownVersion)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch version metadata: unexpected status %s", resp.Status)
	}

	var meta mavenMetadata
	if err := xml.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("parse version metadata: %w", err)
	}
	switch {
	case meta.Release != "":
		return meta.Release, nil
	case meta.Latest != "":
		return meta.Latest, nil
	case len(meta.Versions) > 0:
		return meta.Versions[len(meta.Versions)-1], nil
	}
	return "", fmt.Errorf("version metadata lists no versions: %w", core.ErrUnknownVersion)
}

// distribution is a resolved release bound to its originating store.
type distribution struct {
	store   *Store
	version string
}

// Version returns the concrete release identifier.
func (d *distribution) Version() string {
	return d.version
}

// Prepare materializes the distribution's binaries under the environment's
// store directory and returns an executable bound to cfg. A warm store (a
// previous extraction that still looks valid) is reused without touching the
// network; a cold one is populated under the store's file lock.
func (d *distribution) Prepare(ctx context.Context, cfg core.Config, env *core.Environment) (core.Executable, error) {
	binDir := filepath.Join(env.StoreDir(), d.version, platformKey())

	// Deduplicate concurrent prepares of the same directory within this
	// process; the file lock below covers other processes.
	_, err, _ := d.store.group.Do(binDir, func() (any, error) {
		return nil, d.store.ensureExtracted(ctx, env.StoreDir(), d.version, binDir)
	})
	if err != nil {
		return nil, err
	}

	exe, err := postgres.NewExecutable(postgres.ExecutableConfig{
		BinDir:      filepath.Join(binDir, "bin"),
		Config:      cfg,
		Environment: env,
		Logger:      d.store.log,
	})
	if err != nil {
		return nil, err
	}
	return exe, nil
}

// ensureExtracted guarantees a valid extraction of version under binDir,
// downloading and extracting if necessary.
func (s *Store) ensureExtracted(ctx context.Context, storeDir, version, binDir string) error {
	if storeValid(binDir) {
		s.log.Debug("store cache hit", "version", version, "dir", binDir)
		return nil
	}

	if err := fileutil.EnsureDir(storeDir); err != nil {
		return err
	}
	lock, err := acquireFileLock(ctx, filepath.Join(storeDir, ".pgenv.lock"))
	if err != nil {
		return err
	}
	defer releaseFileLock(s.log, lock)

	// Another process may have populated the store while we waited.
	if storeValid(binDir) {
		s.log.Debug("store cache hit after lock", "version", version, "dir", binDir)
		return nil
	}

	jarPath, err := s.downloadJar(ctx, storeDir, version)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(jarPath) }()

	s.log.Info("extracting postgres distribution", "version", version, "dir", binDir)
	if err := extractJar(jarPath, binDir); err != nil {
		return fmt.Errorf("extract distribution %s: %w", version, err)
	}
	if !storeValid(binDir) {
		return fmt.Errorf("extracted distribution %s is missing server binaries", version)
	}
	return nil
}

// downloadJar fetches the platform jar for version into a temporary file
// inside storeDir (same filesystem as the extraction target) and returns its
// path. The caller removes the file when done.
func (s *Store) downloadJar(ctx context.Context, storeDir, version string) (string, error) {
	url := jarURL(s.mirror, version)
	s.log.Info("downloading postgres distribution", "version", version, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("version %s has no %s artifact: %w", version, platformKey(), core.ErrUnknownVersion)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(storeDir, "pgenv-download-*.jar")
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write download file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close download file: %w", err)
	}
	return tmp.Name(), nil
}

// storeValid reports whether binDir holds a usable extraction: both server
// binaries present, and executable where the platform records permission
// bits.
func storeValid(binDir string) bool {
	initdb := filepath.Join(binDir, "bin", exeName("initdb"))
	server := filepath.Join(binDir, "bin", exeName("postgres"))
	if runtime.GOOS == "windows" {
		// Windows has no execute bit; existence is the best available check.
		return fileExists(initdb) && fileExists(server)
	}
	return fileutil.IsExecutableFile(initdb) && fileutil.IsExecutableFile(server)
}

// exeName appends the platform executable suffix to a binary name.
func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// fileExists reports whether path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
