package reliability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrTimeout is returned when a single attempt exceeds the configured
// per-attempt timeout.
var ErrTimeout = errors.New("operation timed out")

// MaxRetriesError is returned when every attempt failed. It wraps the last
// cause, so errors.Is/As see through it.
type MaxRetriesError struct {
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last underlying cause.
func (e *MaxRetriesError) Unwrap() error {
	return e.Last
}

// RetryConfig holds timeout and retry parameters for the executor.
type RetryConfig struct {
	// Timeout bounds each individual attempt. Default 30s.
	Timeout time.Duration
	// MaxAttempts is the total number of attempts. Default 3.
	MaxAttempts int
	// InitialDelay is the backoff before the second attempt. Default 1s.
	InitialDelay time.Duration
	// MaxDelay caps the backoff. Default 60s.
	MaxDelay time.Duration
	// ExponentialBase grows the delay per attempt. Default 2.
	ExponentialBase float64
	// Jitter scales each delay uniformly in [0.5x, 1.5x] when true.
	Jitter bool
}

// withDefaults fills zero fields with their defaults.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.ExponentialBase <= 0 {
		c.ExponentialBase = 2
	}
	return c
}

// Executor wraps a target call with a per-attempt timeout and retries with
// exponential backoff. Callers apply it around the tool handle; it is not
// part of the engine pipeline.
type Executor struct {
	cfg RetryConfig
}

// NewExecutor creates an Executor with the given config.
func NewExecutor(cfg RetryConfig) *Executor {
	return &Executor{cfg: cfg.withDefaults()}
}

// Do runs fn with the per-attempt timeout, retrying on any error up to
// MaxAttempts. A timed-out attempt surfaces as ErrTimeout; exhausted
// retries surface as *MaxRetriesError carrying the last cause. Context
// cancellation aborts immediately between attempts.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var last error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		last = e.attempt(ctx, fn)
		if last == nil {
			return nil
		}

		if attempt == e.cfg.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, attempt); err != nil {
			return err
		}
	}

	return &MaxRetriesError{Attempts: e.cfg.MaxAttempts, Last: last}
}

// attempt runs fn once under the per-attempt timeout. The wrapped call is
// cancelled cooperatively through its context; the attempt goroutine drains
// into a buffered channel so an overrunning call cannot leak a blocked send.
func (e *Executor) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, e.cfg.Timeout)
		}
		return attemptCtx.Err()
	}
}

// sleep waits out the backoff for the given completed attempt number,
// honoring context cancellation.
func (e *Executor) sleep(ctx context.Context, attempt int) error {
	delay := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.ExponentialBase, float64(attempt-1))
	if e.cfg.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	if capped := float64(e.cfg.MaxDelay); delay > capped {
		delay = capped
	}

	timer := time.NewTimer(time.Duration(delay))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
