package postgres

import (
	"time"

	"github.com/giantswarm/pgenv/internal/core"
	"github.com/giantswarm/pgenv/internal/process"
)

// Process is a running postgres server plus the configuration it was started
// with. It is created by Launch and owned by the lifecycle manager until
// Terminate.
type Process struct {
	cfg  core.Config
	base process.BaseProcess
}

// Config returns the configuration the process was started with.
func (p *Process) Config() core.Config {
	return p.cfg
}

// Pid returns the OS process ID, or 0 after Terminate.
func (p *Process) Pid() int {
	return p.base.Pid()
}

// Terminate stops the server with a SIGTERM-then-SIGKILL sequence bounded by
// timeout and closes the process log files. Safe to call more than once;
// subsequent calls are no-ops.
func (p *Process) Terminate(timeout time.Duration) error {
	err := p.base.Stop(timeout)
	p.base.Close()
	return err
}
