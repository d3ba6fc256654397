package netutil

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// maxPortRetries is the maximum number of attempts to find a port not already
// handed out by this allocator. This guards against pathological cases.
const maxPortRetries = 20

// Allocator finds free TCP ports for postgres servers. It keeps a
// process-local registry of ports it has already handed out, preventing the
// TOCTOU race where two concurrent acquisitions receive the same port from
// the kernel (because the first caller's probe listener closed before the
// second caller's probe opened).
//
// The registry cannot prevent another OS process from grabbing a port between
// allocation and the server's bind; that race is accepted and surfaces as a
// retryable launch failure.
type Allocator struct {
	mu    sync.Mutex
	ports map[int]struct{}
	log   *slog.Logger
}

// NewAllocator creates an Allocator ready for use.
// If logger is nil, slog.Default() is used as a fallback.
func NewAllocator(logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		ports: make(map[int]struct{}),
		log:   logger,
	}
}

// reserve attempts to register a port in the registry.
// Returns true if the port was reserved, false if already taken.
func (a *Allocator) reserve(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.ports[port]; ok {
		return false
	}
	a.ports[port] = struct{}{}
	return true
}

// Release removes a port from the registry, allowing it to be handed out
// again. Called when a start attempt fails before the server binds the port.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.ports, port)
}

// AcquireFreePort asks the kernel for a free port, skipping any ports already
// in the registry. The probe listener is closed before returning, so the port
// is free-at-allocation-time only; the registry keeps it from being handed to
// another caller in this process.
func (a *Allocator) AcquireFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("resolve tcp address: %w", err)
	}

	for i := 0; i < maxPortRetries; i++ {
		l, err := net.ListenTCP("tcp", addr)
		if err != nil {
			return 0, fmt.Errorf("listen on tcp address: %w", err)
		}
		tcpAddr, ok := l.Addr().(*net.TCPAddr)
		if !ok {
			_ = l.Close()
			return 0, fmt.Errorf("unexpected address type: %T", l.Addr())
		}
		port := tcpAddr.Port
		if !a.reserve(port) {
			// Port already handed out, close and retry for a different one.
			a.log.Debug("port already in registry, retrying", "port", port)
			_ = l.Close()
			continue
		}
		if closeErr := l.Close(); closeErr != nil {
			a.log.Warn("close probe listener after port allocation", "port", port, "error", closeErr)
		}
		return port, nil
	}
	return 0, fmt.Errorf("allocate unique port: exhausted %d attempts", maxPortRetries)
}
