package pgenv

import (
	"log/slog"

	"github.com/giantswarm/pgenv/internal/core"
)

// SetLogger replaces the logger used by all pgenv components. Passing nil
// resets to the default: slog.Default() with a component attribute.
// Safe to call concurrently with running servers.
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
