// Package governance defines the request and decision types that flow
// through the engine pipeline.
package governance

import (
	"time"

	"github.com/google/uuid"
)

// Recognized context keys. Unrecognized keys pass through untouched.
const (
	ContextKeyJustification = "justification"
	ContextKeyConfidence    = "confidence"
)

// Request is one intercepted tool call. It is immutable once handed to the
// engine; stages read it but never mutate it.
type Request struct {
	AgentID       string         `json:"agent_id"`
	ToolName      string         `json:"tool_name"`
	FunctionName  string         `json:"function_name"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Timestamp     time.Time      `json:"timestamp"`
}

// WithDefaults fills the correlation ID and timestamp when absent and
// returns the completed request.
func (r Request) WithDefaults(now time.Time) Request {
	if r.CorrelationID == "" {
		r.CorrelationID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	return r
}

// Justification returns the justification string from the request context,
// or "" when absent or not a string.
func (r Request) Justification() string {
	s, _ := r.Context[ContextKeyJustification].(string)
	return s
}

// Confidence returns the agent's self-reported confidence from the request
// context. The second return is false when absent or not numeric.
func (r Request) Confidence() (float64, bool) {
	switch v := r.Context[ContextKeyConfidence].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Decision is the engine's verdict on a request. Reason is always
// non-empty.
type Decision struct {
	Allow    bool           `json:"allow"`
	Reason   string         `json:"reason"`
	RuleID   string         `json:"rule_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Allowed builds an allow decision with the given reason.
func Allowed(reason string) Decision {
	return Decision{Allow: true, Reason: reason}
}

// Denied builds a deny decision with the given reason.
func Denied(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}
