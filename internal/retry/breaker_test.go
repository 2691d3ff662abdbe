package retry

import (
	"errors"
	"testing"
	"time"

	lkerr "luka/internal/errors"
)

var errHandshake = errors.New("ssh: handshake failed")

// fail records n failed attempts, each admitted by Allow.
func fail(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("attempt %d refused: %v", i+1, err)
		}
		cb.Record(errHandshake)
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(&BreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute})

	fail(t, cb, 2)
	if cb.CurrentState() != StateClosed {
		t.Fatalf("state = %v after 2 failures, want closed", cb.CurrentState())
	}
	fail(t, cb, 1)
	if cb.CurrentState() != StateOpen {
		t.Fatalf("state = %v after 3 failures, want open", cb.CurrentState())
	}

	err := cb.Allow()
	if !errors.Is(err, lkerr.ErrCircuitOpen) {
		t.Errorf("Allow = %v, want ErrCircuitOpen", err)
	}
	if d := cb.RetryIn(); d <= 0 || d > time.Minute {
		t.Errorf("RetryIn = %v, want (0, 1m]", d)
	}
}

func TestCircuitBreaker_SuccessClearsFailures(t *testing.T) {
	cb := NewCircuitBreaker(&BreakerConfig{MaxFailures: 3})

	fail(t, cb, 2)
	cb.Record(nil)
	fail(t, cb, 2)
	if cb.CurrentState() != StateClosed {
		t.Errorf("state = %v, a success should restart the count", cb.CurrentState())
	}
	if cb.RetryIn() != 0 {
		t.Error("RetryIn should be zero while closed")
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name    string
		outcome error
		want    State
	}{
		{"trial succeeds", nil, StateClosed},
		{"trial fails", errHandshake, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(&BreakerConfig{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond, HalfOpenMax: 1})
			fail(t, cb, 1)

			time.Sleep(30 * time.Millisecond)
			if err := cb.Allow(); err != nil {
				t.Fatalf("Allow after reset timeout: %v", err)
			}
			if cb.CurrentState() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open", cb.CurrentState())
			}
			cb.Record(tt.outcome)
			if cb.CurrentState() != tt.want {
				t.Errorf("state = %v, want %v", cb.CurrentState(), tt.want)
			}
		})
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(&BreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	fail(t, cb, 1)
	time.Sleep(20 * time.Millisecond)
	cb.Allow() //nolint:errcheck
	cb.Record(nil)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(nil)
	def := DefaultBreakerConfig()
	if cb.cfg.MaxFailures != def.MaxFailures || cb.cfg.ResetTimeout != def.ResetTimeout || cb.cfg.HalfOpenMax != def.HalfOpenMax {
		t.Errorf("cfg = %+v, want defaults %+v", cb.cfg, *def)
	}
	if State(9).String() != "unknown" {
		t.Error("out-of-range state should print unknown")
	}
}
