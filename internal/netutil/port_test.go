package netutil

import (
	"net"
	"strconv"
	"sync"
	"testing"
)

func TestNewAllocator(t *testing.T) {
	t.Parallel()

	t.Run("nil logger uses default", func(t *testing.T) {
		t.Parallel()
		a := NewAllocator(nil)
		if a == nil {
			t.Fatal("expected non-nil allocator")
		}
		if !a.reserve(8080) {
			t.Fatal("expected reserve to succeed on new allocator")
		}
		a.Release(8080)
	})
}

func TestAllocatorReserve(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		setup  func(a *Allocator)
		port   int
		wantOK bool
	}{
		"reserve new port": {
			setup:  func(_ *Allocator) {},
			port:   8080,
			wantOK: true,
		},
		"reserve duplicate port": {
			setup: func(a *Allocator) {
				a.reserve(9090)
			},
			port:   9090,
			wantOK: false,
		},
		"reserve different ports": {
			setup: func(a *Allocator) {
				a.reserve(8080)
			},
			port:   9090,
			wantOK: true,
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a := NewAllocator(nil)
			tc.setup(a)

			if got := a.reserve(tc.port); got != tc.wantOK {
				t.Errorf("reserve(%d) = %v, want %v", tc.port, got, tc.wantOK)
			}
			// Regardless of who reserved first, the port must now be held.
			if a.reserve(tc.port) {
				t.Errorf("port %d should be reserved, but second reserve succeeded", tc.port)
			}
		})
	}
}

func TestAllocatorRelease(t *testing.T) {
	t.Parallel()

	a := NewAllocator(nil)
	if !a.reserve(8080) {
		t.Fatal("initial reserve failed")
	}
	a.Release(8080)
	if !a.reserve(8080) {
		t.Error("reserve after Release should succeed")
	}

	// Releasing a port that was never reserved is a no-op.
	a.Release(12345)
}

func TestAcquireFreePort(t *testing.T) {
	t.Parallel()

	t.Run("returns a bindable port", func(t *testing.T) {
		t.Parallel()
		a := NewAllocator(nil)
		port, err := a.AcquireFreePort()
		if err != nil {
			t.Fatalf("AcquireFreePort() error = %v", err)
		}
		if port <= 0 || port > 65535 {
			t.Fatalf("AcquireFreePort() = %d, want 1-65535", port)
		}
		// Best-effort check: the port should still be bindable right after
		// allocation since the probe listener has been closed.
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			t.Fatalf("allocated port %d not bindable: %v", port, err)
		}
		_ = l.Close()
	})

	t.Run("concurrent acquisitions are distinct", func(t *testing.T) {
		t.Parallel()
		a := NewAllocator(nil)

		const n = 8
		var (
			mu    sync.Mutex
			ports = make(map[int]struct{}, n)
			wg    sync.WaitGroup
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				port, err := a.AcquireFreePort()
				if err != nil {
					t.Errorf("AcquireFreePort() error = %v", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if _, dup := ports[port]; dup {
					t.Errorf("port %d allocated twice", port)
				}
				ports[port] = struct{}{}
			}()
		}
		wg.Wait()
	})
}
