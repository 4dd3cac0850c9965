// Package service contains the governance engine: the ordered decision
// pipeline every intercepted tool call runs through.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

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

// PolicyResolver resolves the policy for one request. The engine does not
// hold the registry; callers inject registry.PolicyFor (or any substitute)
// so resolution happens once per request.
type PolicyResolver func(req governance.Request) (policy.Policy, error)

// Engine evaluates intercepted tool calls against the configured pipeline:
// kill-switch, intent validation, rate limit, quota, circuit breaker,
// policy, approval gate, and confidence escalation, auditing every decision
// exactly once. Evaluate is safe for concurrent use.
type Engine struct {
	validators   *intent.Pipeline
	limiter      *ratelimit.Limiter
	quota        *quota.Manager
	breaker      *reliability.Breaker
	killSwitch   *oversight.KillSwitch
	approvals    *oversight.Workflow
	escalation   *oversight.Escalation
	resolver     PolicyResolver
	defaultPol   policy.Policy
	auditors     []audit.Auditor
	fanout       *audit.Fanout
	logger       *slog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	redactArgs   bool
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithValidators sets the intent validation pipeline.
func WithValidators(p *intent.Pipeline) Option {
	return func(e *Engine) { e.validators = p }
}

// WithRateLimiter enables per-(agent, tool) rate limiting.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithQuota enables per-agent rolling-window quotas.
func WithQuota(q *quota.Manager) Option {
	return func(e *Engine) { e.quota = q }
}

// WithBreaker enables the per-tool circuit-breaker precheck.
func WithBreaker(b *reliability.Breaker) Option {
	return func(e *Engine) { e.breaker = b }
}

// WithKillSwitch installs the emergency halt gate.
func WithKillSwitch(k *oversight.KillSwitch) Option {
	return func(e *Engine) { e.killSwitch = k }
}

// WithApprovals installs the human approval workflow.
func WithApprovals(w *oversight.Workflow) Option {
	return func(e *Engine) { e.approvals = w }
}

// WithEscalation installs confidence-based escalation.
func WithEscalation(esc *oversight.Escalation) Option {
	return func(e *Engine) { e.escalation = esc }
}

// WithAuditors configures the audit sinks, in fan-out order.
func WithAuditors(auditors ...audit.Auditor) Option {
	return func(e *Engine) { e.auditors = auditors }
}

// WithPolicyResolver installs the per-request policy resolver.
func WithPolicyResolver(r PolicyResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithDefaultPolicy sets the policy applied when resolution yields none.
// Defaults to AllowAll.
func WithDefaultPolicy(p policy.Policy) Option {
	return func(e *Engine) { e.defaultPol = p }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRedaction masks sensitive argument values in audit records.
func WithRedaction(enabled bool) Option {
	return func(e *Engine) { e.redactArgs = enabled }
}

// WithEngineClock overrides the clock.
func WithEngineClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine. All pipeline stages are optional; an Engine
// with no options allows everything and audits nowhere.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		validators: intent.NewPipeline(),
		defaultPol: policy.AllowAll{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("enact/engine"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	// The fan-out is built last so it picks up the configured logger and
	// metrics regardless of option order.
	e.fanout = audit.NewFanout(e.logger, e.auditors, audit.WithFailureHook(
		func(sink string, err error) {
			if e.metrics != nil {
				e.metrics.SinkFailuresTotal.Inc()
			}
		}))
	return e
}

// Evaluate runs the request through the pipeline and returns the decision.
// It never returns an error: internal failures surface as deny decisions
// with an "internal:" reason. The decision is audited before it is returned.
func (e *Engine) Evaluate(ctx context.Context, req governance.Request) governance.Decision {
	req = req.WithDefaults(e.now())
	start := e.now()

	ctx, span := e.tracer.Start(ctx, "engine.evaluate", trace.WithAttributes(
		attribute.String("agent_id", req.AgentID),
		attribute.String("tool_name", req.ToolName),
		attribute.String("function_name", req.FunctionName),
	))
	defer span.End()

	decision, source := e.decide(ctx, req)
	duration := e.now().Sub(start)

	span.SetAttributes(
		attribute.Bool("decision.allow", decision.Allow),
		attribute.String("decision.reason", decision.Reason),
		attribute.String("decision.source", source),
	)

	e.logger.Info("governance decision",
		"agent_id", req.AgentID,
		"tool", req.ToolName,
		"function", req.FunctionName,
		"allow", decision.Allow,
		"reason", decision.Reason,
		"source", source,
		"correlation_id", req.CorrelationID,
		"duration_ms", float64(duration.Microseconds())/1000.0,
	)

	if e.metrics != nil {
		e.metrics.DecisionsTotal.WithLabelValues(fmt.Sprintf("%t", decision.Allow), source).Inc()
		e.metrics.DecisionDuration.Observe(duration.Seconds())
	}

	e.audit(ctx, req, decision, source, duration)
	return decision
}

// decide runs the ordered stages and returns the decision plus the stage
// that produced it.
func (e *Engine) decide(ctx context.Context, req governance.Request) (governance.Decision, string) {
	if e.killSwitch != nil && e.killSwitch.Active() {
		status := e.killSwitch.Status()
		return governance.Denied("kill-switch active: " + status.Reason), audit.SourceKillSwitch
	}

	if res := e.validate(req); !res.Valid {
		return governance.Denied("validation: " + res.Reason), audit.SourceValidator
	}

	if e.limiter != nil && !e.limiter.Check(req.AgentID, req.ToolName) {
		return governance.Denied("rate limit exceeded"), audit.SourceRateLimit
	}

	// Quota is consumed for every request that reaches this stage; it
	// protects the decision cost itself, so a later policy deny does not
	// refund it.
	if e.quota != nil && !e.quota.Consume(req.AgentID) {
		return governance.Denied("quota exceeded"), audit.SourceQuota
	}

	if e.breaker != nil && e.breaker.IsOpen(req.ToolName) {
		return governance.Denied("circuit open"), audit.SourceCircuitBreaker
	}

	decision, source := e.evaluatePolicy(ctx, req)
	if !decision.Allow {
		return decision, source
	}

	if gated, d := e.approvalGate(req); gated {
		return d, audit.SourceApproval
	}

	if gated, d := e.escalationGate(req, decision); gated {
		return d, audit.SourceEscalation
	}

	return decision, source
}

// validate runs the validator pipeline, converting a panic into a failure.
func (e *Engine) validate(req governance.Request) (res intent.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("validator panic", "panic", r, "correlation_id", req.CorrelationID)
			res = intent.Invalid("internal: validator")
		}
	}()
	return e.validators.Validate(intent.FromRequest(req))
}

// evaluatePolicy resolves and evaluates the request's policy. Resolution
// and evaluation failures deny; expired tools deny with their own reason.
func (e *Engine) evaluatePolicy(ctx context.Context, req governance.Request) (decision governance.Decision, source string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("policy panic", "panic", r, "correlation_id", req.CorrelationID)
			decision = governance.Denied("internal: policy")
			source = audit.SourcePolicy
		}
	}()

	pol := e.defaultPol
	if e.resolver != nil {
		resolved, err := e.resolver(req)
		switch {
		case errors.Is(err, registry.ErrToolExpired):
			return governance.Denied("tool expired"), audit.SourceRegistry
		case err != nil:
			e.logger.Error("policy resolution failed", "error", err, "correlation_id", req.CorrelationID)
			return governance.Denied("internal: policy"), audit.SourcePolicy
		case resolved != nil:
			pol = resolved
		}
	}

	d, err := pol.Evaluate(ctx, req)
	if err != nil {
		e.logger.Error("policy evaluation failed", "error", err, "correlation_id", req.CorrelationID)
		return governance.Denied("internal: policy"), audit.SourcePolicy
	}
	if d.Reason == "" {
		d.Reason = "policy decision"
	}
	return d, audit.SourcePolicy
}

// approvalGate holds allowed high-risk requests for human approval. A
// request matching an already-approved ticket passes the gate.
func (e *Engine) approvalGate(req governance.Request) (bool, governance.Decision) {
	if e.approvals == nil || !e.approvals.RequiresApproval(req.ToolName, req.FunctionName) {
		return false, governance.Decision{}
	}
	if e.approvals.IsApproved(req.AgentID, req.ToolName, req.FunctionName, req.Arguments) {
		return false, governance.Decision{}
	}

	ticket := e.approvals.RequestApproval(
		req.AgentID, req.ToolName, req.FunctionName,
		req.Arguments, req.Justification(), oversight.RiskHigh,
	)
	if e.metrics != nil {
		e.metrics.PendingApprovals.Set(float64(len(e.approvals.Pending())))
	}

	return true, governance.Decision{
		Allow:    false,
		Reason:   "awaiting approval",
		Metadata: map[string]any{"approval_id": ticket.ID},
	}
}

// escalationGate downgrades low-confidence allows to a human gate. Requests
// without a confidence value pass through.
func (e *Engine) escalationGate(req governance.Request, decision governance.Decision) (bool, governance.Decision) {
	if e.escalation == nil {
		return false, governance.Decision{}
	}
	confidence, ok := req.Confidence()
	if !ok {
		return false, governance.Decision{}
	}

	esc, err := e.escalation.Evaluate(confidence, req.AgentID, req.ToolName, req.FunctionName)
	if err != nil {
		return true, governance.Denied("validation: " + err.Error())
	}
	if !esc.RequiresHuman {
		return false, governance.Decision{}
	}

	metadata := map[string]any{
		"escalation_level": string(esc.Level),
		"confidence":       confidence,
	}
	if e.approvals != nil {
		ticket := e.approvals.RequestApproval(
			req.AgentID, req.ToolName, req.FunctionName,
			req.Arguments, req.Justification(), oversight.RiskMedium,
		)
		metadata["approval_id"] = ticket.ID
		if e.metrics != nil {
			e.metrics.PendingApprovals.Set(float64(len(e.approvals.Pending())))
		}
	}

	return true, governance.Decision{
		Allow:    false,
		Reason:   "awaiting approval: " + esc.Message,
		Metadata: metadata,
	}
}

// audit fans the final decision out to every configured sink. It runs
// before the decision is returned to the caller.
func (e *Engine) audit(ctx context.Context, req governance.Request, decision governance.Decision, source string, duration time.Duration) {
	args := req.Arguments
	if e.redactArgs {
		args = audit.RedactArgs(args)
	}
	rec := audit.Record{
		Timestamp:      req.Timestamp,
		AgentID:        req.AgentID,
		Tool:           req.ToolName,
		Function:       req.FunctionName,
		Arguments:      args,
		Allow:          decision.Allow,
		Reason:         decision.Reason,
		RuleID:         decision.RuleID,
		DurationMS:     float64(duration.Microseconds()) / 1000.0,
		CorrelationID:  req.CorrelationID,
		DecisionSource: source,
	}
	_ = e.fanout.Log(ctx, rec)
}

// RecordOutcome reports a tool execution result to the circuit breaker.
// Callers invoke it after every executed tool call.
func (e *Engine) RecordOutcome(toolName string, ok bool) {
	if e.breaker != nil {
		if ok {
			e.breaker.RecordSuccess(toolName)
		} else {
			e.breaker.RecordFailure(toolName)
		}
	}
	if e.metrics != nil {
		result := "failure"
		if ok {
			result = "success"
		}
		e.metrics.OutcomesTotal.WithLabelValues(result).Inc()
	}
}
