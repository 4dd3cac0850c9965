package audit

import (
	"context"
	"fmt"
	"log/slog"
)

// Fanout delivers each record to every configured auditor in configuration
// order. A failing or panicking sink never prevents later sinks from
// receiving the record; failures are reported on the logger and through the
// optional failure hook.
type Fanout struct {
	auditors  []Auditor
	logger    *slog.Logger
	onFailure func(sink string, err error)
}

// FanoutOption configures a Fanout.
type FanoutOption func(*Fanout)

// WithFailureHook installs a callback invoked once per sink failure.
// Used by the engine to count sink failures in metrics.
func WithFailureHook(fn func(sink string, err error)) FanoutOption {
	return func(f *Fanout) { f.onFailure = fn }
}

// NewFanout creates a Fanout over the given auditors.
func NewFanout(logger *slog.Logger, auditors []Auditor, opts ...FanoutOption) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fanout{auditors: auditors, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Log submits the record to every auditor exactly once.
// The returned error is always nil; fan-out is best-effort by contract.
func (f *Fanout) Log(ctx context.Context, rec Record) error {
	for i, a := range f.auditors {
		f.logOne(ctx, i, a, rec)
	}
	return nil
}

// Len returns the number of configured auditors.
func (f *Fanout) Len() int {
	return len(f.auditors)
}

// logOne delivers the record to a single auditor, converting panics to errors.
func (f *Fanout) logOne(ctx context.Context, idx int, a Auditor, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			f.fail(idx, a, fmt.Errorf("sink panic: %v", r))
		}
	}()
	if err := a.Log(ctx, rec); err != nil {
		f.fail(idx, a, err)
	}
}

// fail reports a sink failure out-of-band.
func (f *Fanout) fail(idx int, a Auditor, err error) {
	name := fmt.Sprintf("%T#%d", a, idx)
	f.logger.Error("audit sink failed", "sink", name, "error", err)
	if f.onFailure != nil {
		f.onFailure(name, err)
	}
}

// Compile-time interface verification.
var _ Auditor = (*Fanout)(nil)
