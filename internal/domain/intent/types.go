// Package intent contains intent validation: the validator port, the
// built-in justification and schema validators, and the pipeline that
// composes them.
package intent

import "github.com/enact-ai/enact/internal/domain/governance"

// Intent is the validator's view of a request: the what (tool, function,
// arguments) plus the why (justification, confidence).
type Intent struct {
	AgentID       string
	ToolName      string
	FunctionName  string
	Arguments     map[string]any
	Justification string
	Confidence    float64
	// HasConfidence reports whether the agent supplied a confidence value.
	HasConfidence bool
}

// FromRequest projects a governance request onto an Intent.
func FromRequest(req governance.Request) Intent {
	conf, ok := req.Confidence()
	return Intent{
		AgentID:       req.AgentID,
		ToolName:      req.ToolName,
		FunctionName:  req.FunctionName,
		Arguments:     req.Arguments,
		Justification: req.Justification(),
		Confidence:    conf,
		HasConfidence: ok,
	}
}

// Result is the outcome of a single validation check.
type Result struct {
	Valid  bool
	Reason string
}

// OK is the passing result.
func OK() Result {
	return Result{Valid: true}
}

// Invalid builds a failing result with the given reason.
func Invalid(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

// Validator checks one aspect of an intent before execution.
// Implementations must be safe for concurrent use.
type Validator interface {
	Validate(intent Intent) Result
}

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(intent Intent) Result

// Validate implements Validator.
func (f ValidatorFunc) Validate(intent Intent) Result {
	return f(intent)
}
