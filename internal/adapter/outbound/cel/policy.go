// Package cel provides a CEL-expression policy for governance decisions.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/enact-ai/enact/internal/domain/governance"
	"github.com/enact-ai/enact/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// newPolicyEnvironment creates a CEL environment exposing the request
// fields as top-level variables.
func newPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("function_name", cel.StringType),
		cel.Variable("arguments", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request_context", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// Policy evaluates a single CEL boolean expression against each request.
// A true result allows; false denies with the configured reason.
type Policy struct {
	expression string
	reason     string
	program    cel.Program
}

// NewPolicy compiles the expression into a Policy. The expression must be a
// boolean over agent_id, tool_name, function_name, arguments, and
// request_context. Compilation enforces length, nesting, and cost limits.
func NewPolicy(expression, denyReason string) (*Policy, error) {
	if err := validateExpression(expression); err != nil {
		return nil, err
	}
	if denyReason == "" {
		denyReason = "denied by expression policy"
	}

	env, err := newPolicyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create policy environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}

	return &Policy{expression: expression, reason: denyReason, program: prg}, nil
}

// validateExpression enforces the pre-compilation safety limits.
func validateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	return validateNesting(expr)
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// Evaluate implements policy.Policy. Evaluation is bounded by the cost
// limit and a timeout; an evaluation failure is an error, not a denial.
func (p *Policy) Evaluate(ctx context.Context, req governance.Request) (governance.Decision, error) {
	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}
	reqCtx := req.Context
	if reqCtx == nil {
		reqCtx = map[string]any{}
	}
	activation := map[string]any{
		"agent_id":        req.AgentID,
		"tool_name":       req.ToolName,
		"function_name":   req.FunctionName,
		"arguments":       args,
		"request_context": reqCtx,
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := p.program.ContextEval(evalCtx, activation)
	if err != nil {
		return governance.Decision{}, fmt.Errorf("evaluate expression: %w", err)
	}

	allowed, ok := result.Value().(bool)
	if !ok {
		return governance.Decision{}, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	if allowed {
		return governance.Allowed("allowed by expression policy"), nil
	}
	return governance.Denied(p.reason), nil
}

// Expression returns the source expression.
func (p *Policy) Expression() string {
	return p.expression
}

// Compile-time interface verification.
var _ policy.Policy = (*Policy)(nil)
