package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nascentcore/license-engine/infrastructure/logging"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"closed", StateClosed, "closed"},
		{"open", StateOpen, "open"},
		{"half-open", StateHalfOpen, "half-open"},
		{"unknown", State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxFailures != 5 {
		t.Errorf("MaxFailures = %v, want 5", cfg.MaxFailures)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.HalfOpenMax != 3 {
		t.Errorf("HalfOpenMax = %v, want 3", cfg.HalfOpenMax)
	}
}

func TestCircuitBreaker_Execute_Success(t *testing.T) {
	cb := New(DefaultConfig())

	err := cb.Execute(context.Background(), func() error { return nil })
	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Execute_OpensAfterFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 2, Timeout: time.Minute, HalfOpenMax: 1})
	probeErr := errors.New("probe unreachable")

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return probeErr })
	}

	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open after consecutive failures", cb.State())
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []State
	cfg := Config{
		MaxFailures: 1,
		Timeout:     time.Minute,
		HalfOpenMax: 1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, to)
		},
	}
	cb := New(cfg)

	_ = cb.Execute(context.Background(), func() error { return errors.New("fail") })

	if len(transitions) == 0 {
		t.Error("OnStateChange callback was never invoked")
	}
}

func TestRetry_SucceedsWithoutRetrying(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %v, want 1", attempts)
	}
}

func TestRetry_RetriesUntilMaxAttempts(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("host unreachable")
	})

	if err == nil {
		t.Error("Retry() error = nil, want non-nil after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("attempts = %v, want 3", attempts)
	}
}

func TestRetry_StopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Retry(ctx, DefaultRetryConfig(), func() error {
		attempts++
		return errors.New("host unreachable")
	})

	if err == nil {
		t.Error("Retry() error = nil, want non-nil for cancelled context")
	}
}

func TestProbeCBConfig(t *testing.T) {
	logger := logging.New("test", "info", "json")

	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"default", DefaultProbeCBConfig(logger), 5},
		{"strict", StrictProbeCBConfig(logger), 3},
		{"lenient", LenientProbeCBConfig(logger), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cfg.MaxFailures != tt.want {
				t.Errorf("MaxFailures = %v, want %v", tt.cfg.MaxFailures, tt.want)
			}
		})
	}
}

func TestSecondsToDuration(t *testing.T) {
	if got := SecondsToDuration(30); got != 30*time.Second {
		t.Errorf("SecondsToDuration() = %v, want 30s", got)
	}
}
