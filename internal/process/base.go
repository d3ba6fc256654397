package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/giantswarm/pgenv/internal/sentinel"
)

// ErrAlreadyStarted is returned when Start is called on a process that is
// already running. Callers must Stop the process before starting it again.
const ErrAlreadyStarted = sentinel.Error("process already started")

// ErrNilCmd is returned when SetupAndStart is called with a nil *exec.Cmd.
const ErrNilCmd = sentinel.Error("cmd must not be nil")

// ErrEmptyCmdPath is returned when SetupAndStart is called with an empty cmd.Path.
const ErrEmptyCmdPath = sentinel.Error("cmd.Path must not be empty")

// ErrEmptyDataDir is returned when SetupAndStart is called with an empty data directory.
const ErrEmptyDataDir = sentinel.Error("data directory must not be empty")

// DefaultStopTimeout is the fallback timeout for stopping a process when no
// explicit stop timeout is configured.
const DefaultStopTimeout = 10 * time.Second

// termGracePeriod is the maximum time to wait for a process to exit after
// SIGTERM before escalating to SIGKILL. The actual grace period is capped
// at the overall timeout.
const termGracePeriod = 5 * time.Second

// killDrainTimeout is the hard upper bound for waiting on the wait channel
// after SIGKILL has been sent (or after the process has already exited).
// SIGKILL cannot be caught, so the process should exit almost immediately;
// this is a safety net against cmd.Wait never returning.
const killDrainTimeout = 10 * time.Second

// BaseProcess provides common process lifecycle management for the postgres
// server binary.
//
// BaseProcess is not safe for concurrent use. Callers must serialize access
// to all methods. In practice the lifecycle manager that owns the process
// serializes Start and Stop with its own mutex.
type BaseProcess struct {
	cmd         *exec.Cmd
	waitDone    <-chan error    // receives cmd.Wait result; started once in SetupAndStart
	exited      <-chan struct{} // closed when the process exits; readable by multiple goroutines
	logFiles    LogFiles
	name        string
	log         *slog.Logger
	stopTimeout time.Duration // used by Close as an auto-stop safety net; zero means DefaultStopTimeout
}

// NewBaseProcess creates a BaseProcess with the given name, logger, and stop
// timeout. If logger is nil, slog.Default() is used. Panics if name is empty,
// since an empty name produces confusing error messages throughout the
// process lifecycle.
func NewBaseProcess(name string, logger *slog.Logger, stopTimeout time.Duration) BaseProcess {
	if name == "" {
		panic("pgenv: process name must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return BaseProcess{name: name, log: logger, stopTimeout: stopTimeout}
}

// IsStarted reports whether the process has been started and not yet stopped.
func (b *BaseProcess) IsStarted() bool {
	return b.cmd != nil
}

// Pid returns the OS process ID, or 0 if the process is not running.
func (b *BaseProcess) Pid() int {
	if b.cmd == nil || b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

// Logger returns the logger used by this process.
func (b *BaseProcess) Logger() *slog.Logger {
	return b.log
}

// Exited returns a channel that is closed when the process exits. It is safe
// to select on from any number of goroutines. Returns nil if the process has
// not been started or has already been stopped.
func (b *BaseProcess) Exited() <-chan struct{} {
	return b.exited
}

// SetupAndStart wires the command's output to rotating log files in dataDir
// and starts it. The cmd must already have its Path and Args set; this sets
// Dir, Stdout, Stderr and calls Start.
//
// Exactly one goroutine calling cmd.Wait is started here; its result is
// delivered on an internal channel consumed by Stop. cmd.Wait must be called
// exactly once per started process, so Stop never calls it directly.
//
// Returns ErrAlreadyStarted if the process is already running.
func (b *BaseProcess) SetupAndStart(cmd *exec.Cmd, dataDir string) error {
	if cmd == nil {
		return ErrNilCmd
	}
	if cmd.Path == "" {
		return ErrEmptyCmdPath
	}
	if dataDir == "" {
		return ErrEmptyDataDir
	}
	if b.cmd != nil {
		return ErrAlreadyStarted
	}

	logFiles, err := NewLogFiles(dataDir, b.name)
	if err != nil {
		return fmt.Errorf("create %s logs: %w", b.name, err)
	}

	cmd.Dir = dataDir
	cmd.Stdout = logFiles.stdout
	cmd.Stderr = logFiles.stderr
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		logFiles.Close()
		return fmt.Errorf("start %s process: %w", b.name, err)
	}
	b.cmd = cmd
	b.logFiles = logFiles

	// done (buffered 1) receives the Wait error, consumed once by Stop.
	// exited is a broadcast signal for readiness polls to detect early death.
	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		done <- cmd.Wait()
		close(exited)
	}()
	b.waitDone = done
	b.exited = exited

	return nil
}

// Stop terminates the process with the given timeout using the
// SIGTERM-then-SIGKILL sequence. After Stop returns, IsStarted reports false
// regardless of whether the stop succeeded, because the process is no longer
// in a known-running state. Safe to call when the process was never started
// or already stopped; returns nil immediately in those cases.
func (b *BaseProcess) Stop(timeout time.Duration) error {
	if b.cmd == nil || b.cmd.Process == nil {
		b.cmd = nil
		b.waitDone = nil
		b.exited = nil
		return nil
	}
	pid := b.cmd.Process.Pid
	err := stopWithDone(b.cmd, b.waitDone, timeout, b.name)
	if err != nil {
		b.log.Warn("process stop failed; process may be orphaned",
			"process", b.name, "pid", pid, "error", err)
	}
	b.cmd = nil
	b.waitDone = nil
	b.exited = nil
	return err
}

// Close closes the log writers. If the process is still running (Stop was not
// called first), Close stops it automatically to prevent an orphan; that
// auto-stop is a safety net, not an intended code path.
func (b *BaseProcess) Close() {
	if b.cmd != nil {
		b.log.Warn("process.Close called without Stop; stopping automatically",
			"process", b.name)
		timeout := b.stopTimeout
		if timeout <= 0 {
			timeout = DefaultStopTimeout
		}
		if err := b.Stop(timeout); err != nil {
			b.log.Warn("auto-stop during Close failed",
				"process", b.name, "error", err)
		}
	}
	b.logFiles.Close()
}

// drainDone reads from the done channel with the given timeout as a hard
// upper bound. Under normal conditions cmd.Wait returns almost immediately
// after the process exits. Returns true and the cmd.Wait error if the channel
// delivered in time, or false and a nil error if the timeout elapsed.
func drainDone(done <-chan error, timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return true, err
	case <-t.C:
		return false, nil
	}
}

// stopWithDone implements the SIGTERM-then-SIGKILL shutdown sequence using
// the pre-existing done channel from SetupAndStart:
//
//  1. Send SIGTERM for graceful shutdown. Postgres treats SIGTERM as "smart
//     shutdown": stop accepting connections, wait for sessions to end.
//  2. Schedule SIGKILL after a grace period (canceled if the process exits
//     first). The grace is clamped to the overall timeout so the kill always
//     fires while the total timer is still running.
//  3. Wait for process exit or total timeout.
//
// Worst-case blocking duration is timeout + killDrainTimeout, when the main
// timeout expires and the post-SIGKILL drain also blocks fully.
func stopWithDone(cmd *exec.Cmd, done <-chan error, timeout time.Duration, name string) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if done == nil {
		return fmt.Errorf("%s: done channel must not be nil", name)
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process already exited; drain the wait goroutine with a hard
		// upper bound to avoid blocking indefinitely.
		ok, waitErr := drainDone(done, killDrainTimeout)
		if !ok {
			return fmt.Errorf("%s: timed out draining process after signal failure", name)
		}
		return expectSignalExit(waitErr, name)
	}

	grace := min(termGracePeriod, timeout)
	killTimer := time.AfterFunc(grace, func() {
		// Kill on an already-finished process returns a harmless
		// "process already finished" error, intentionally discarded.
		_ = cmd.Process.Kill()
	})
	defer killTimer.Stop()

	totalTimer := time.NewTimer(timeout)
	defer totalTimer.Stop()

	select {
	case err := <-done:
		return expectSignalExit(err, name)
	case <-totalTimer.C:
		ok, waitErr := drainDone(done, killDrainTimeout)
		if !ok {
			return fmt.Errorf("%s: timed out waiting for process to exit after SIGKILL", name)
		}
		if err := expectSignalExit(waitErr, name); err != nil {
			return fmt.Errorf("%s stop timeout: %w", name, err)
		}
		return nil
	}
}

// expectSignalExit interprets an error from cmd.Wait after sending a
// termination signal. Exit statuses caused by SIGTERM or SIGKILL are expected
// and treated as successful stops. Postgres also exits with status 1 on smart
// shutdown under some supervisors, so a plain non-zero exit after our own
// signal is still surfaced for the caller to log rather than swallowed.
func expectSignalExit(err error, name string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			sig := status.Signal()
			if sig == syscall.SIGTERM || sig == syscall.SIGKILL {
				return nil
			}
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}
