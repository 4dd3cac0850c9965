package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestExecutor_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ex := NewExecutor(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})

	calls := 0
	err := ex.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestExecutor_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ex := NewExecutor(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})

	calls := 0
	err := ex.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestExecutor_ExhaustedRetries(t *testing.T) {
	t.Parallel()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ex := NewExecutor(RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond})

	cause := errors.New("backend down")
	err := ex.Do(context.Background(), func(context.Context) error { return cause })

	var mre *MaxRetriesError
	if !errors.As(err, &mre) {
		t.Fatalf("Do() = %v, want *MaxRetriesError", err)
	}
	if mre.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", mre.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Error("MaxRetriesError should unwrap to the last cause")
	}
}

func TestExecutor_PerAttemptTimeout(t *testing.T) {
	t.Parallel()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ex := NewExecutor(RetryConfig{
		Timeout:      10 * time.Millisecond,
		MaxAttempts:  1,
		InitialDelay: time.Millisecond,
	})

	err := ex.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Do() = %v, want ErrTimeout", err)
	}
}

func TestExecutor_ContextCancellationAborts(t *testing.T) {
	t.Parallel()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ex := NewExecutor(RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := ex.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want cancellation during backoff after 1", calls)
	}
}
