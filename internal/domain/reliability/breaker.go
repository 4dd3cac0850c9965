// Package reliability provides the per-tool circuit breaker and the
// timeout/retry executor callers wrap around tool handles.
package reliability

import (
	"sync"
	"time"
)

// State is the circuit state for one tool.
type State int

const (
	// StateClosed is normal operation; failures are counted.
	StateClosed State = iota
	// StateOpen blocks requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits probes; successes close the circuit again.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit-breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default 5.
	FailureThreshold int
	// SuccessThreshold is the half-open success count that closes the
	// circuit. Default 2.
	SuccessThreshold int
	// Timeout is the open-state cooldown before a probe is admitted.
	// Default 60s.
	Timeout time.Duration
}

// withDefaults fills zero fields with their defaults.
func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// circuit is the per-tool state machine.
type circuit struct {
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// Breaker tracks a CLOSED/OPEN/HALF_OPEN circuit per tool. Circuits are
// created lazily on first reference. All transitions happen under the
// breaker lock, so per-tool updates are atomic.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	circuits map[string]*circuit
	now      func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock overrides the clock. Tests use this to pin the time.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker creates a Breaker with the given config.
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		cfg:      cfg.withDefaults(),
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// circuitLocked returns the tool's circuit, creating it on first use.
// Lock must be held.
func (b *Breaker) circuitLocked(toolName string) *circuit {
	c, ok := b.circuits[toolName]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[toolName] = c
	}
	return c
}

// IsOpen reports whether the tool's circuit blocks requests. When the open
// cooldown has elapsed the circuit transitions to half-open and the caller
// is admitted as a probe.
func (b *Breaker) IsOpen(toolName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(toolName)
	if c.state == StateOpen && b.now().Sub(c.openedAt) >= b.cfg.Timeout {
		c.state = StateHalfOpen
		c.successes = 0
	}
	return c.state == StateOpen
}

// RecordSuccess records a successful tool execution. In half-open state,
// reaching the success threshold closes the circuit; in closed state the
// failure count resets.
func (b *Breaker) RecordSuccess(toolName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(toolName)
	switch c.state {
	case StateHalfOpen:
		c.successes++
		if c.successes >= b.cfg.SuccessThreshold {
			c.state = StateClosed
			c.failures = 0
			c.successes = 0
		}
	case StateClosed:
		c.failures = 0
	}
}

// RecordFailure records a failed tool execution. In half-open state any
// failure reopens the circuit; in closed state reaching the failure
// threshold opens it.
func (b *Breaker) RecordFailure(toolName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(toolName)
	switch c.state {
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = b.now()
		c.successes = 0
	case StateClosed:
		c.failures++
		if c.failures >= b.cfg.FailureThreshold {
			c.state = StateOpen
			c.openedAt = b.now()
		}
	case StateOpen:
		c.openedAt = b.now()
	}
}

// State returns the tool's current circuit state.
func (b *Breaker) State(toolName string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuitLocked(toolName).state
}

// Reset discards the tool's circuit, returning it to closed.
func (b *Breaker) Reset(toolName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, toolName)
}
