package retry

import (
	"fmt"
	"sync"
	"time"

	lkerr "luka/internal/errors"
)

// State is the breaker position.
type State int

const (
	StateClosed   State = iota // attempts pass
	StateOpen                  // attempts refused until ResetTimeout passes
	StateHalfOpen              // trial attempts after the timeout
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig configures a [CircuitBreaker].  Zero fields take the
// defaults from [DefaultBreakerConfig].
type BreakerConfig struct {
	MaxFailures  int           // consecutive failures that open the circuit
	ResetTimeout time.Duration // time spent open before a trial attempt
	HalfOpenMax  int           // trial successes needed to close again

	// OnStateChange runs under the breaker lock on every transition.
	OnStateChange func(from, to State)
}

// DefaultBreakerConfig suits a gateway connection: five failed
// handshakes in a row buy it thirty seconds of rest.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second, HalfOpenMax: 2}
}

// CircuitBreaker counts consecutive failures of a long-running attempt
// (an SSH connect, a tunnel client run).  Callers ask [CircuitBreaker.Allow]
// before starting and report the outcome with [CircuitBreaker.Record].
type CircuitBreaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg *BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.MaxFailures <= 0 {
		c.MaxFailures = def.MaxFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = def.HalfOpenMax
	}
	return &CircuitBreaker{cfg: c}
}

// Allow returns nil when an attempt may start now, or an error wrapping
// ErrCircuitOpen while the circuit is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	wait := cb.cfg.ResetTimeout - time.Since(cb.lastFailure)
	if wait <= 0 {
		cb.transition(StateHalfOpen)
		return nil
	}
	return fmt.Errorf("%w: %d consecutive failures, retry in %v",
		lkerr.ErrCircuitOpen, cb.failures, wait.Truncate(time.Second))
}

// Record feeds back the outcome of an attempt admitted by Allow.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.successes = 0
		cb.lastFailure = time.Now()
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.transition(StateOpen)
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMax {
			cb.failures = 0
			cb.successes = 0
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
	}
}

// RetryIn is how long an open circuit stays open; zero otherwise.
func (cb *CircuitBreaker) RetryIn() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	if d := cb.cfg.ResetTimeout - time.Since(cb.lastFailure); d > 0 {
		return d
	}
	return 0
}

// CurrentState returns the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
