package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	eneerr "ene/internal/errors"
)

func TestCircuitBreaker_NormalOperation(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	err := cb.Execute(func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %s", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
	})

	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return fmt.Errorf("fail") }) //nolint:errcheck
	}

	if cb.CurrentState() != StateOpen {
		t.Errorf("expected open after 3 failures, got %s", cb.CurrentState())
	}
	if cb.Failures() != 3 {
		t.Errorf("expected 3 failures, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour, // long timeout so it stays open
		HalfOpenMax:  1,
	})

	// Trip the breaker.
	cb.Execute(func() error { return fmt.Errorf("fail") }) //nolint:errcheck

	// Should be rejected without calling fn.
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	if !errors.Is(err, eneerr.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn should not have been called when circuit is open")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	// Trip the breaker.
	cb.Execute(func() error { return fmt.Errorf("fail") }) //nolint:errcheck
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.CurrentState())
	}

	// Wait for reset timeout.
	time.Sleep(20 * time.Millisecond)

	// The first probe succeeds but HalfOpenMax is 2.
	err := cb.Execute(func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.CurrentState() != StateHalfOpen {
		t.Errorf("expected half-open after first success, got %s", cb.CurrentState())
	}

	// Second success closes the circuit.
	err = cb.Execute(func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed after 2 successes, got %s", cb.CurrentState())
	}
}

func TestCircuitBreaker_RetryIn(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
	})
	if cb.RetryIn() != 0 {
		t.Error("closed breaker should not ask for a wait")
	}

	cb.Execute(func() error { return fmt.Errorf("refused") }) //nolint:errcheck
	cb.Execute(func() error { return fmt.Errorf("refused") }) //nolint:errcheck

	if d := cb.RetryIn(); d <= 50*time.Second || d > time.Minute {
		t.Errorf("RetryIn = %v, want just under 1m", d)
	}
}

func TestCircuitBreaker_HalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	// Trip → Open.
	cb.Execute(func() error { return fmt.Errorf("fail") }) //nolint:errcheck
	time.Sleep(20 * time.Millisecond)

	// Half-open probe fails → back to Open.
	cb.Execute(func() error { return fmt.Errorf("still broken") }) //nolint:errcheck
	if cb.CurrentState() != StateOpen {
		t.Errorf("expected open after half-open failure, got %s", cb.CurrentState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		HalfOpenMax:  1,
	})

	cb.Execute(func() error { return fmt.Errorf("fail") }) //nolint:errcheck
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.CurrentState())
	}

	cb.Reset()
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed after reset, got %s", cb.CurrentState())
	}
	if cb.Failures() != 0 {
		t.Errorf("expected 0 failures after reset, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_StateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s→%s", from, to))
		},
	})

	cb.Execute(func() error { return fmt.Errorf("fail") }) //nolint:errcheck
	time.Sleep(20 * time.Millisecond)
	cb.Execute(func() error { return nil }) //nolint:errcheck

	want := []string{"closed→open", "open→half-open", "half-open→closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestCircuitBreaker_NilConfig(t *testing.T) {
	cb := NewCircuitBreaker(nil)
	if cb.maxFailures != 5 {
		t.Errorf("expected default maxFailures=5, got %d", cb.maxFailures)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
	})

	// 2 failures, then success → failures reset.
	cb.Execute(func() error { return fmt.Errorf("fail") }) //nolint:errcheck
	cb.Execute(func() error { return fmt.Errorf("fail") }) //nolint:errcheck
	cb.Execute(func() error { return nil })                 //nolint:errcheck

	if cb.Failures() != 0 {
		t.Errorf("expected 0 failures after success, got %d", cb.Failures())
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %s", cb.CurrentState())
	}
}

// TestCircuitBreaker_CancellationIgnored verifies a cancelled attempt
// does not count as a failure of the remote side.
func TestCircuitBreaker_CancellationIgnored(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Second})

	for i := 0; i < 5; i++ {
		err := cb.Execute(func() error {
			return fmt.Errorf("dial: %w", context.Canceled)
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error not passed through: %v", err)
		}
	}
	if cb.CurrentState() != StateClosed || cb.Failures() != 0 {
		t.Errorf("state = %s, failures = %d; want closed, 0", cb.CurrentState(), cb.Failures())
	}
}

func TestCircuitBreaker_CustomIgnore(t *testing.T) {
	benign := errors.New("nickname in use")
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures: 1,
		Ignore:      func(err error) bool { return errors.Is(err, benign) },
	})

	cb.Execute(func() error { return benign }) //nolint:errcheck
	if cb.CurrentState() != StateClosed {
		t.Fatalf("ignored error opened the circuit")
	}
	cb.Execute(func() error { return context.Canceled }) //nolint:errcheck
	if cb.CurrentState() != StateOpen {
		t.Errorf("a custom Ignore replaces the default; expected open, got %s", cb.CurrentState())
	}
}
