package process

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitReadyValidation(t *testing.T) {
	t.Parallel()

	alwaysReady := func(_ context.Context, _ int) (bool, error) { return true, nil }

	tests := map[string]struct {
		cfg     WaitReadyConfig
		wantErr error
	}{
		"missing name": {
			cfg: WaitReadyConfig{Interval: time.Millisecond, Timeout: time.Second},
		},
		"non-positive interval": {
			cfg:     WaitReadyConfig{Name: "postgres", Timeout: time.Second},
			wantErr: ErrIntervalNotPositive,
		},
		"non-positive timeout": {
			cfg:     WaitReadyConfig{Name: "postgres", Interval: time.Millisecond},
			wantErr: ErrTimeoutNotPositive,
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := WaitReady(context.Background(), tc.cfg, alwaysReady)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestWaitReadyImmediateSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := WaitReady(context.Background(), WaitReadyConfig{
		Name:     "postgres",
		Interval: time.Hour, // must not matter: first check runs immediately
		Timeout:  time.Second,
	}, func(_ context.Context, attempt int) (bool, error) {
		calls++
		if attempt != 1 {
			t.Errorf("first attempt = %d, want 1", attempt)
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("check called %d times, want 1", calls)
	}
}

func TestWaitReadyEventualSuccess(t *testing.T) {
	t.Parallel()

	err := WaitReady(context.Background(), WaitReadyConfig{
		Name:     "postgres",
		Interval: time.Millisecond,
		Timeout:  5 * time.Second,
	}, func(_ context.Context, attempt int) (bool, error) {
		return attempt >= 3, nil
	})
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
}

func TestWaitReadyTimeout(t *testing.T) {
	t.Parallel()

	err := WaitReady(context.Background(), WaitReadyConfig{
		Name:     "postgres",
		Interval: time.Millisecond,
		Timeout:  20 * time.Millisecond,
	}, func(_ context.Context, _ int) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestWaitReadyFatalCheckError(t *testing.T) {
	t.Parallel()

	fatal := errors.New("bad credentials")
	err := WaitReady(context.Background(), WaitReadyConfig{
		Name:     "postgres",
		Interval: time.Millisecond,
		Timeout:  time.Second,
	}, func(_ context.Context, _ int) (bool, error) {
		return false, fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("error = %v, want wrapped %v", err, fatal)
	}
}

func TestWaitReadyAbortsWhenProcessExits(t *testing.T) {
	t.Parallel()

	exited := make(chan struct{})
	close(exited)

	err := WaitReady(context.Background(), WaitReadyConfig{
		Name:          "postgres",
		Interval:      time.Millisecond,
		Timeout:       time.Minute,
		ProcessExited: exited,
	}, func(_ context.Context, _ int) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrProcessExited) {
		t.Errorf("error = %v, want ErrProcessExited", err)
	}
}
