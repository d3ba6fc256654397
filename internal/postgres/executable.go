package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	// Registers the pgx driver under database/sql name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/giantswarm/pgenv/internal/core"
	"github.com/giantswarm/pgenv/internal/process"
	"github.com/giantswarm/pgenv/internal/sentinel"
)

// ErrMissingBinDir is returned when an executable is created without a
// binaries directory.
const ErrMissingBinDir = sentinel.Error("binaries directory must not be empty")

// ErrMissingEnvironment is returned when an executable is created without an
// environment.
const ErrMissingEnvironment = sentinel.Error("environment must not be nil")

// bootstrapDatabase is the database initdb always creates. Readiness pings
// and CREATE DATABASE statements connect to it because the requested database
// may not exist yet.
const bootstrapDatabase = "postgres"

// readyPollInterval is how often the readiness check pings the server while
// it is starting up.
const readyPollInterval = 100 * time.Millisecond

// ExecutableConfig assembles an Executable.
type ExecutableConfig struct {
	// BinDir is the directory holding the extracted server binaries
	// (initdb, postgres, ...).
	BinDir string

	// Config is the instance configuration the executable is bound to.
	Config core.Config

	// Environment supplies the command post-processor applied to the server
	// command line before launch.
	Environment *core.Environment

	// Logger is optional; the package logger is used when nil.
	Logger *slog.Logger
}

// Executable is a prepared server binary bound to one configuration. It is
// single-use: Launch starts exactly one process.
type Executable struct {
	binDir string
	cfg    core.Config
	env    *core.Environment
	log    *slog.Logger
}

// NewExecutable validates c and returns an Executable ready to launch.
func NewExecutable(c ExecutableConfig) (*Executable, error) {
	if c.BinDir == "" {
		return nil, ErrMissingBinDir
	}
	if c.Environment == nil {
		return nil, ErrMissingEnvironment
	}
	if err := c.Config.Validate(); err != nil {
		return nil, fmt.Errorf("executable config: %w", err)
	}
	log := c.Logger
	if log == nil {
		log = core.Logger()
	}
	return &Executable{binDir: c.BinDir, cfg: c.Config, env: c.Environment, log: log}, nil
}

// Launch initializes the cluster if the data directory has none, starts the
// server process, waits until it accepts connections, and creates the
// requested database when it differs from the bootstrap one. On any failure
// after the process started, the process is stopped again so a failed launch
// leaves nothing running.
func (e *Executable) Launch(ctx context.Context) (core.Process, error) {
	dataDir := e.cfg.Storage.Directory

	if err := e.initCluster(ctx, dataDir); err != nil {
		return nil, err
	}

	base := process.NewBaseProcess("postgres", e.log, e.cfg.Timeouts.Stop)
	argv := e.env.AdjustCommand(serverArgs(e.binDir, e.cfg))
	// Deliberately not context-bound: ctx only covers the start phase, and
	// its cancellation must never kill a server that launched successfully.
	// Shutdown goes through Terminate.
	cmd := exec.Command(argv[0], argv[1:]...)

	if err := base.SetupAndStart(cmd, dataDir); err != nil {
		return nil, err
	}
	e.log.Debug("postgres process started",
		"pid", base.Pid(), "port", e.cfg.Net.Port, "data_dir", dataDir)

	if err := e.postStart(ctx, &base); err != nil {
		stopErr := base.Stop(e.cfg.Timeouts.Stop)
		base.Close()
		return nil, errors.Join(err, stopErr)
	}

	return &Process{cfg: e.cfg, base: base}, nil
}

// postStart waits for the server to accept connections and creates the
// requested database if needed.
func (e *Executable) postStart(ctx context.Context, base *process.BaseProcess) error {
	if err := e.waitReady(ctx, base.Exited()); err != nil {
		return err
	}
	if e.cfg.Storage.Database == bootstrapDatabase {
		return nil
	}
	return e.createDatabase(ctx, e.cfg.Storage.Database)
}

// initCluster runs initdb unless the data directory already contains a
// cluster, identified by its PG_VERSION marker file. Reusing an initialized
// persistent directory skips initdb entirely, so existing data survives.
func (e *Executable) initCluster(ctx context.Context, dataDir string) error {
	marker := filepath.Join(dataDir, "PG_VERSION")
	if _, err := os.Stat(marker); err == nil {
		e.log.Debug("data directory already initialized", "data_dir", dataDir)
		return nil
	}

	pwfile, err := writePasswordFile(e.cfg.Credentials.Password)
	if err != nil {
		return err
	}
	defer os.Remove(pwfile)

	args := []string{
		"-A", "password",
		"-U", e.cfg.Credentials.Username,
		"--pwfile", pwfile,
		"-D", dataDir,
	}
	args = append(args, e.cfg.InitParams...)

	cmd := exec.CommandContext(ctx, binPath(e.binDir, "initdb"), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("initdb failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	e.log.Debug("cluster initialized", "data_dir", dataDir)
	return nil
}

// waitReady polls the server with SQL pings until it accepts connections.
// exited aborts the wait early when the process dies during startup.
func (e *Executable) waitReady(ctx context.Context, exited <-chan struct{}) error {
	db, err := sql.Open("pgx", bootstrapDSN(e.cfg))
	if err != nil {
		return fmt.Errorf("open readiness connection: %w", err)
	}
	defer db.Close()

	return process.WaitReady(ctx, process.WaitReadyConfig{
		Interval:      readyPollInterval,
		Timeout:       e.cfg.Timeouts.Start,
		Name:          "postgres",
		Port:          e.cfg.Net.Port,
		Logger:        e.log,
		ProcessExited: exited,
	}, func(ctx context.Context, attempt int) (bool, error) {
		// Connection refused just means the server is still starting.
		return db.PingContext(ctx) == nil, nil
	})
}

// createDatabase creates name in the running server. The identifier is
// quoted, so any database name that initdb's encoding accepts works.
func (e *Executable) createDatabase(ctx context.Context, name string) error {
	db, err := sql.Open("pgx", bootstrapDSN(e.cfg))
	if err != nil {
		return fmt.Errorf("open admin connection: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+quoteIdentifier(name)); err != nil {
		return fmt.Errorf("create database %q: %w", name, err)
	}
	e.log.Debug("database created", "database", name)
	return nil
}

// serverArgs builds the postgres server command line. The socket directory is
// pointed at the data directory so no world-writable default location is
// touched.
func serverArgs(binDir string, cfg core.Config) []string {
	return []string{
		binPath(binDir, "postgres"),
		"-D", cfg.Storage.Directory,
		"-p", strconv.Itoa(cfg.Net.Port),
		"-c", "listen_addresses=" + cfg.Net.Host,
		"-k", cfg.Storage.Directory,
	}
}

// bootstrapDSN returns the pgx connection string for the bootstrap database.
func bootstrapDSN(cfg core.Config) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Credentials.Username, cfg.Credentials.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Net.Host, cfg.Net.Port),
		Path:     "/" + bootstrapDatabase,
		RawQuery: "sslmode=disable&connect_timeout=5",
	}
	return u.String()
}

// quoteIdentifier quotes a SQL identifier, doubling embedded quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// binPath joins the binaries directory with an executable name, adding the
// Windows suffix when needed.
func binPath(binDir, name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(binDir, name)
}

// writePasswordFile writes the superuser password for initdb's --pwfile flag
// into a private temporary file. The caller removes it after initdb ran.
func writePasswordFile(password string) (string, error) {
	f, err := os.CreateTemp("", "pgenv-pw-")
	if err != nil {
		return "", fmt.Errorf("create password file: %w", err)
	}
	if _, err := f.WriteString(password + "\n"); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write password file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close password file: %w", err)
	}
	return f.Name(), nil
}
