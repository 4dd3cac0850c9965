// Package policy defines the policy port and the built-in policy kinds:
// rule-based, temporal, delegating-remote, allow-all, and deny-all.
// Policies are immutable after construction and safe for concurrent use.
package policy

import (
	"context"

	"github.com/enact-ai/enact/internal/domain/governance"
)

// Policy is a pure function from request to decision.
// Implementations must not mutate the request. An error return is treated
// as an internal policy failure by the engine, never as a denial.
type Policy interface {
	Evaluate(ctx context.Context, req governance.Request) (governance.Decision, error)
}

// AllowAll permits every request.
type AllowAll struct{}

// Evaluate implements Policy.
func (AllowAll) Evaluate(_ context.Context, _ governance.Request) (governance.Decision, error) {
	return governance.Allowed("allow-all policy"), nil
}

// DenyAll rejects every request.
type DenyAll struct{}

// Evaluate implements Policy.
func (DenyAll) Evaluate(_ context.Context, _ governance.Request) (governance.Decision, error) {
	return governance.Denied("deny-all policy"), nil
}

// Func adapts a plain function to the Policy interface.
// This is the open extension point for custom policy kinds.
type Func func(ctx context.Context, req governance.Request) (governance.Decision, error)

// Evaluate implements Policy.
func (f Func) Evaluate(ctx context.Context, req governance.Request) (governance.Decision, error) {
	return f(ctx, req)
}

// Compile-time interface verification.
var (
	_ Policy = AllowAll{}
	_ Policy = DenyAll{}
	_ Policy = Func(nil)
)
