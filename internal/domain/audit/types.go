// Package audit contains the audit record type, the auditor port, and the
// fan-out that delivers every decision to every configured sink.
package audit

import (
	"context"
	"strings"
	"time"
)

// Decision source constants identify which pipeline stage produced a decision.
const (
	SourceKillSwitch     = "kill_switch"
	SourceValidator      = "validator"
	SourceRateLimit      = "rate_limit"
	SourceQuota          = "quota"
	SourceCircuitBreaker = "circuit_breaker"
	SourceRegistry       = "registry"
	SourcePolicy         = "policy"
	SourceApproval       = "approval"
	SourceEscalation     = "escalation"
)

// Record represents a single audited governance decision.
// Timestamps marshal as RFC 3339 with timezone offset.
type Record struct {
	Timestamp      time.Time      `json:"timestamp"`
	AgentID        string         `json:"agent_id"`
	Tool           string         `json:"tool"`
	Function       string         `json:"function"`
	Arguments      map[string]any `json:"arguments"`
	Allow          bool           `json:"allow"`
	Reason         string         `json:"reason"`
	RuleID         string         `json:"rule_id,omitempty"`
	DurationMS     float64        `json:"duration_ms"`
	CorrelationID  string         `json:"correlation_id"`
	DecisionSource string         `json:"decision_source,omitempty"`
}

// Auditor is a consumer that durably records decisions.
// Implementations are best-effort; the engine neither buffers nor retries.
type Auditor interface {
	Log(ctx context.Context, rec Record) error
}

// sensitiveKeywords lists substrings that mark an argument key as sensitive.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactArgs returns a copy of args with sensitive values masked.
// A key is sensitive if it contains any of the sensitiveKeywords.
func RedactArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
