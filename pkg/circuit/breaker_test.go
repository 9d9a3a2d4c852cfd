package circuit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() *Config {
	return &Config{
		MaxFailures:     2,
		SuccessRequired: 2,
		Timeout:         10 * time.Millisecond,
		ResetTimeout:    time.Minute,
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	cb := New(testConfig())
	if cb.GetState() != StateClosed {
		t.Errorf("new breaker state = %v, want closed", cb.GetState())
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(testConfig())
	failing := func() error { return errors.New("publish failed") }

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), failing)
	}

	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want open after %d failures", cb.GetState(), 2)
	}

	// Requests are rejected while open
	err := cb.Execute(context.Background(), func() error { return nil })
	if err == nil {
		t.Error("Execute() while open should reject without running fn")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	cb := New(testConfig())
	failing := func() error { return errors.New("down") }

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), failing)
	}

	// Wait out the open timeout, then succeed enough times to close
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("Execute() in half-open = %v", err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed after recovery", cb.GetState())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	failing := func() error { return errors.New("down") }

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), failing)
	}

	time.Sleep(15 * time.Millisecond)

	_ = cb.Execute(context.Background(), failing)

	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want open after half-open failure", cb.GetState())
	}
}

func TestBreaker_Reset(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("down") })
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed after Reset", cb.GetState())
	}
	if stats := cb.GetStats(); stats.Failures != 0 {
		t.Errorf("failures = %d, want 0 after Reset", stats.Failures)
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := New(testConfig())

	got, err := ExecuteWithResult(context.Background(), cb, func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult() error = %v", err)
	}
	if got != 42 {
		t.Errorf("ExecuteWithResult() = %d, want 42", got)
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
