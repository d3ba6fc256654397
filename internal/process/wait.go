package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sentinel errors returned by WaitReady for invalid configuration and
// process lifecycle conditions. Callers can match these with errors.Is
// through wrapped error chains.
var (
	// ErrIntervalNotPositive indicates a non-positive poll interval.
	ErrIntervalNotPositive = errors.New("interval must be positive")

	// ErrTimeoutNotPositive indicates a non-positive timeout.
	ErrTimeoutNotPositive = errors.New("timeout must be positive")

	// ErrProcessExited indicates the process exited before becoming ready.
	ErrProcessExited = errors.New("process exited before becoming ready")
)

// ReadinessCheck is a function that checks if a process is ready.
// The context is canceled when the polling loop times out or the caller
// cancels, allowing checks (e.g., SQL pings) to exit promptly.
// The attempt parameter is 1-based (first call receives attempt=1).
// It returns true when ready, false to continue polling.
// The error return is for fatal errors that should abort polling.
type ReadinessCheck func(ctx context.Context, attempt int) (ready bool, err error)

// WaitReadyConfig configures the wait behavior.
type WaitReadyConfig struct {
	Interval      time.Duration   // Poll interval
	Timeout       time.Duration   // Overall timeout
	Name          string          // For logging (e.g., "postgres")
	Port          int             // For logging context
	Logger        *slog.Logger    // Optional logger (defaults to slog.Default())
	ProcessExited <-chan struct{} // If non-nil, abort immediately when closed (process died)
}

// WaitReady polls until the check function returns true or the timeout
// elapses. The first check runs immediately; subsequent checks run every
// Interval. A non-nil error from the check is fatal and aborts polling.
// If ProcessExited closes, polling aborts with ErrProcessExited so a server
// that dies on launch (e.g., port bind failure) fails fast instead of
// burning the whole timeout.
func WaitReady(ctx context.Context, cfg WaitReadyConfig, check ReadinessCheck) error {
	if cfg.Name == "" {
		return errors.New("wait ready: name must not be empty")
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("wait for %s: %w", cfg.Name, ErrIntervalNotPositive)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("wait for %s: %w", cfg.Name, ErrTimeoutNotPositive)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	pollCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	attempt := 0
	for {
		if cfg.ProcessExited != nil {
			select {
			case <-cfg.ProcessExited:
				return fmt.Errorf("wait for %s readiness on port %d: %w",
					cfg.Name, cfg.Port, ErrProcessExited)
			default:
			}
		}

		attempt++
		ready, err := check(pollCtx, attempt)
		if err != nil {
			// Fatal error - abort polling.
			return fmt.Errorf("wait for %s readiness on port %d: %w", cfg.Name, cfg.Port, err)
		}
		if ready {
			log.Debug("wait succeeded", "name", cfg.Name, "port", cfg.Port, "attempt", attempt)
			return nil
		}

		select {
		case <-pollCtx.Done():
			return fmt.Errorf("wait for %s readiness on port %d: %w",
				cfg.Name, cfg.Port, pollCtx.Err())
		case <-ticker.C:
		}
	}
}
