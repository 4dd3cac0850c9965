package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/enact-ai/enact/internal/adapter/outbound/memory"
	"github.com/enact-ai/enact/internal/domain/audit"
	"github.com/enact-ai/enact/internal/domain/governance"
	"github.com/enact-ai/enact/internal/domain/intent"
	"github.com/enact-ai/enact/internal/domain/oversight"
	"github.com/enact-ai/enact/internal/domain/policy"
	"github.com/enact-ai/enact/internal/domain/registry"
	"github.com/enact-ai/enact/internal/domain/reliability"
	"github.com/enact-ai/enact/internal/domain/safety/quota"
	"github.com/enact-ai/enact/internal/domain/safety/ratelimit"
)

func request() governance.Request {
	return governance.Request{
		AgentID:      "a1",
		ToolName:     "files",
		FunctionName: "read",
		Arguments:    map[string]any{"path": "/etc/app.yaml"},
	}
}

func lastRecord(t *testing.T, sink *memory.Auditor) audit.Record {
	t.Helper()
	recs := sink.Recent(1)
	if len(recs) != 1 {
		t.Fatalf("audit sink has %d records, want at least 1", sink.Len())
	}
	return recs[0]
}

func TestEngine_DefaultAllows(t *testing.T) {
	t.Parallel()

	sink := memory.NewAuditor()
	e := NewEngine(WithAuditors(sink))

	d := e.Evaluate(context.Background(), request())
	if !d.Allow {
		t.Fatalf("Evaluate() = %+v, want allow", d)
	}

	rec := lastRecord(t, sink)
	if !rec.Allow || rec.DecisionSource != audit.SourcePolicy {
		t.Errorf("audit record = %+v", rec)
	}
	if rec.CorrelationID == "" {
		t.Error("audit record should carry a generated correlation ID")
	}
}

func TestEngine_KillSwitchDominates(t *testing.T) {
	t.Parallel()

	ks := oversight.NewKillSwitch()
	ks.Activate("ops", "incident 42")

	validatorRan := false
	sink := memory.NewAuditor()
	e := NewEngine(
		WithKillSwitch(ks),
		WithValidators(intent.NewPipeline(intent.ValidatorFunc(func(intent.Intent) intent.Result {
			validatorRan = true
			return intent.OK()
		}))),
		WithAuditors(sink),
	)

	d := e.Evaluate(context.Background(), request())
	if d.Allow {
		t.Fatal("active kill-switch must deny")
	}
	if d.Reason != "kill-switch active: incident 42" {
		t.Errorf("Reason = %q", d.Reason)
	}
	if validatorRan {
		t.Error("kill-switch denial must short-circuit before validation")
	}
	if rec := lastRecord(t, sink); rec.DecisionSource != audit.SourceKillSwitch {
		t.Errorf("DecisionSource = %q, want kill_switch", rec.DecisionSource)
	}
}

func TestEngine_ValidationDenies(t *testing.T) {
	t.Parallel()

	sink := memory.NewAuditor()
	e := NewEngine(
		WithValidators(intent.NewPipeline(intent.NewJustification())),
		WithAuditors(sink),
	)

	d := e.Evaluate(context.Background(), request())
	if d.Allow {
		t.Fatal("missing justification must deny")
	}
	if d.Reason != "validation: missing justification" {
		t.Errorf("Reason = %q", d.Reason)
	}
	if rec := lastRecord(t, sink); rec.DecisionSource != audit.SourceValidator {
		t.Errorf("DecisionSource = %q, want validator", rec.DecisionSource)
	}
}

func TestEngine_ValidatorPanicDenies(t *testing.T) {
	t.Parallel()

	sink := memory.NewAuditor()
	e := NewEngine(
		WithValidators(intent.NewPipeline(intent.ValidatorFunc(func(intent.Intent) intent.Result {
			panic("boom")
		}))),
		WithAuditors(sink),
	)

	d := e.Evaluate(context.Background(), request())
	if d.Allow || d.Reason != "validation: internal: validator" {
		t.Errorf("Evaluate() = %+v, want internal validator denial", d)
	}
}

func TestEngine_RateLimit(t *testing.T) {
	t.Parallel()

	sink := memory.NewAuditor()
	e := NewEngine(
		WithRateLimiter(ratelimit.NewLimiter(ratelimit.Config{MaxPerMinute: 60, Burst: 1})),
		WithAuditors(sink),
	)

	if d := e.Evaluate(context.Background(), request()); !d.Allow {
		t.Fatalf("first request should pass, got %+v", d)
	}
	d := e.Evaluate(context.Background(), request())
	if d.Allow || d.Reason != "rate limit exceeded" {
		t.Errorf("Evaluate() = %+v, want rate limit denial", d)
	}
	if rec := lastRecord(t, sink); rec.DecisionSource != audit.SourceRateLimit {
		t.Errorf("DecisionSource = %q, want rate_limit", rec.DecisionSource)
	}
}

func TestEngine_QuotaConsumedOnPolicyDeny(t *testing.T) {
	t.Parallel()

	deny, err := policy.NewRuleBased(nil, false)
	if err != nil {
		t.Fatalf("NewRuleBased() error: %v", err)
	}

	q := quota.NewManager(quota.Config{MaxActions: 5, Window: time.Hour})
	e := NewEngine(
		WithQuota(q),
		WithPolicyResolver(func(governance.Request) (policy.Policy, error) { return deny, nil }),
	)

	d := e.Evaluate(context.Background(), request())
	if d.Allow {
		t.Fatal("deny-all policy should deny")
	}
	// The quota pays for the evaluation itself, not the outcome.
	if got := q.Remaining("a1"); got != 4 {
		t.Errorf("Remaining() = %d, want 4 after a denied evaluation", got)
	}
}

func TestEngine_QuotaExceeded(t *testing.T) {
	t.Parallel()

	sink := memory.NewAuditor()
	e := NewEngine(
		WithQuota(quota.NewManager(quota.Config{MaxActions: 1, Window: time.Hour})),
		WithAuditors(sink),
	)

	e.Evaluate(context.Background(), request())
	d := e.Evaluate(context.Background(), request())
	if d.Allow || d.Reason != "quota exceeded" {
		t.Errorf("Evaluate() = %+v, want quota denial", d)
	}
	if rec := lastRecord(t, sink); rec.DecisionSource != audit.SourceQuota {
		t.Errorf("DecisionSource = %q, want quota", rec.DecisionSource)
	}
}

func TestEngine_CircuitOpenDenies(t *testing.T) {
	t.Parallel()

	b := reliability.NewBreaker(reliability.BreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	sink := memory.NewAuditor()
	e := NewEngine(WithBreaker(b), WithAuditors(sink))

	e.RecordOutcome("files", false)

	d := e.Evaluate(context.Background(), request())
	if d.Allow || d.Reason != "circuit open" {
		t.Errorf("Evaluate() = %+v, want circuit open denial", d)
	}
	if rec := lastRecord(t, sink); rec.DecisionSource != audit.SourceCircuitBreaker {
		t.Errorf("DecisionSource = %q, want circuit_breaker", rec.DecisionSource)
	}

	// Other tools keep flowing.
	other := request()
	other.ToolName = "network"
	if d := e.Evaluate(context.Background(), other); !d.Allow {
		t.Errorf("Evaluate(network) = %+v, want allow", d)
	}
}

func TestEngine_ExpiredToolDenies(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	reg := registry.New(registry.WithClock(func() time.Time { return now }))
	if err := reg.RegisterTool("files", nil, registry.WithExpiry(now.Add(-time.Minute))); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}

	sink := memory.NewAuditor()
	e := NewEngine(
		WithPolicyResolver(func(req governance.Request) (policy.Policy, error) {
			return reg.PolicyFor(req.ToolName, req.AgentID)
		}),
		WithAuditors(sink),
	)

	d := e.Evaluate(context.Background(), request())
	if d.Allow || d.Reason != "tool expired" {
		t.Errorf("Evaluate() = %+v, want tool expired denial", d)
	}
	if rec := lastRecord(t, sink); rec.DecisionSource != audit.SourceRegistry {
		t.Errorf("DecisionSource = %q, want registry", rec.DecisionSource)
	}
}

func TestEngine_PolicyDenyCarriesRuleID(t *testing.T) {
	t.Parallel()

	pol, err := policy.NewRuleBased([]policy.Rule{
		{ID: "deny-writes", Tool: "files", Function: "write", Action: policy.ActionDeny, Reason: "writes forbidden"},
	}, true)
	if err != nil {
		t.Fatalf("NewRuleBased() error: %v", err)
	}

	sink := memory.NewAuditor()
	e := NewEngine(
		WithPolicyResolver(func(governance.Request) (policy.Policy, error) { return pol, nil }),
		WithAuditors(sink),
	)

	req := request()
	req.FunctionName = "write"
	d := e.Evaluate(context.Background(), req)
	if d.Allow || d.Reason != "writes forbidden" || d.RuleID != "deny-writes" {
		t.Errorf("Evaluate() = %+v", d)
	}
	if rec := lastRecord(t, sink); rec.RuleID != "deny-writes" {
		t.Errorf("audit RuleID = %q", rec.RuleID)
	}
}

type panicPolicy struct{}

func (panicPolicy) Evaluate(context.Context, governance.Request) (governance.Decision, error) {
	panic("policy bug")
}

func TestEngine_PolicyPanicDenies(t *testing.T) {
	t.Parallel()

	e := NewEngine(
		WithPolicyResolver(func(governance.Request) (policy.Policy, error) { return panicPolicy{}, nil }),
	)

	d := e.Evaluate(context.Background(), request())
	if d.Allow || d.Reason != "internal: policy" {
		t.Errorf("Evaluate() = %+v, want internal policy denial", d)
	}
}

func TestEngine_ApprovalGate(t *testing.T) {
	t.Parallel()

	w, err := oversight.NewWorkflow(nil, oversight.WithHighRiskTools("files"))
	if err != nil {
		t.Fatalf("NewWorkflow() error: %v", err)
	}

	sink := memory.NewAuditor()
	e := NewEngine(WithApprovals(w), WithAuditors(sink))

	d := e.Evaluate(context.Background(), request())
	if d.Allow || d.Reason != "awaiting approval" {
		t.Fatalf("Evaluate() = %+v, want awaiting approval", d)
	}
	ticketID, ok := d.Metadata["approval_id"].(string)
	if !ok || ticketID == "" {
		t.Fatalf("Metadata = %v, want approval_id", d.Metadata)
	}
	if rec := lastRecord(t, sink); rec.DecisionSource != audit.SourceApproval {
		t.Errorf("DecisionSource = %q, want approval", rec.DecisionSource)
	}

	if err := w.Approve(ticketID, "alice"); err != nil {
		t.Fatalf("Approve() error: %v", err)
	}

	// Resubmission with identical arguments passes the gate.
	if d := e.Evaluate(context.Background(), request()); !d.Allow {
		t.Errorf("Evaluate() after approval = %+v, want allow", d)
	}

	// Changed arguments require a fresh ticket.
	changed := request()
	changed.Arguments = map[string]any{"path": "/other"}
	if d := e.Evaluate(context.Background(), changed); d.Allow {
		t.Error("changed arguments must not reuse the approval")
	}
}

func TestEngine_EscalationLowConfidence(t *testing.T) {
	t.Parallel()

	w, err := oversight.NewWorkflow(nil)
	if err != nil {
		t.Fatalf("NewWorkflow() error: %v", err)
	}

	sink := memory.NewAuditor()
	e := NewEngine(
		WithEscalation(oversight.NewEscalation()),
		WithApprovals(w),
		WithAuditors(sink),
	)

	req := request()
	req.Context = map[string]any{governance.ContextKeyConfidence: 0.4}

	d := e.Evaluate(context.Background(), req)
	if d.Allow {
		t.Fatalf("Evaluate() = %+v, want escalation denial", d)
	}
	if !strings.HasPrefix(d.Reason, "awaiting approval: ") {
		t.Errorf("Reason = %q", d.Reason)
	}
	if d.Metadata["escalation_level"] != string(oversight.EscalationApproval) {
		t.Errorf("Metadata = %v", d.Metadata)
	}
	if _, ok := d.Metadata["approval_id"]; !ok {
		t.Error("escalation with a workflow should open a ticket")
	}
	if rec := lastRecord(t, sink); rec.DecisionSource != audit.SourceEscalation {
		t.Errorf("DecisionSource = %q, want escalation", rec.DecisionSource)
	}

	// High confidence passes untouched.
	req.Context = map[string]any{governance.ContextKeyConfidence: 0.95}
	if d := e.Evaluate(context.Background(), req); !d.Allow {
		t.Errorf("Evaluate() with high confidence = %+v, want allow", d)
	}
}

func TestEngine_EscalationOutOfRangeConfidence(t *testing.T) {
	t.Parallel()

	e := NewEngine(WithEscalation(oversight.NewEscalation()))

	req := request()
	req.Context = map[string]any{governance.ContextKeyConfidence: 1.5}

	d := e.Evaluate(context.Background(), req)
	if d.Allow || !strings.HasPrefix(d.Reason, "validation: ") {
		t.Errorf("Evaluate() = %+v, want validation denial", d)
	}
}

func TestEngine_AuditExactlyOncePerEvaluate(t *testing.T) {
	t.Parallel()

	sink := memory.NewAuditor()
	e := NewEngine(WithAuditors(sink))

	for i := 0; i < 3; i++ {
		e.Evaluate(context.Background(), request())
	}
	if got := sink.Len(); got != 3 {
		t.Errorf("sink has %d records, want 3", got)
	}
}

func TestEngine_RedactsAuditArguments(t *testing.T) {
	t.Parallel()

	sink := memory.NewAuditor()
	e := NewEngine(WithAuditors(sink), WithRedaction(true))

	req := request()
	req.Arguments = map[string]any{"path": "/tmp", "api_key": "sk-12345"}
	e.Evaluate(context.Background(), req)

	rec := lastRecord(t, sink)
	if rec.Arguments["api_key"] != "***REDACTED***" {
		t.Errorf("api_key = %v, want redacted", rec.Arguments["api_key"])
	}
	if rec.Arguments["path"] != "/tmp" {
		t.Errorf("path = %v, want passed through", rec.Arguments["path"])
	}
	if req.Arguments["api_key"] != "sk-12345" {
		t.Error("redaction must not mutate the request")
	}
}

func TestEngine_RecordOutcomeDrivesBreaker(t *testing.T) {
	t.Parallel()

	b := reliability.NewBreaker(reliability.BreakerConfig{FailureThreshold: 2, Timeout: time.Hour})
	e := NewEngine(WithBreaker(b))

	e.RecordOutcome("files", false)
	e.RecordOutcome("files", false)
	if d := e.Evaluate(context.Background(), request()); d.Allow {
		t.Error("breaker opened by outcomes should deny the next request")
	}

	e.RecordOutcome("network", true)
	other := request()
	other.ToolName = "network"
	if d := e.Evaluate(context.Background(), other); !d.Allow {
		t.Errorf("Evaluate(network) = %+v, want allow", d)
	}
}
