// Package config provides configuration types and loading for the enact
// governance proxy.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config is the top-level configuration.
type Config struct {
	// AgentID identifies the connected agent in governance requests.
	AgentID string `yaml:"agent_id" mapstructure:"agent_id"`

	// Upstream configures the MCP server to proxy to.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// PolicyFile is a YAML or JSON rule-policy file applied to every tool.
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file"`

	// DefaultAllow is the fallback when no policy is configured.
	DefaultAllow bool `yaml:"default_allow" mapstructure:"default_allow"`

	// Validation configures intent validation.
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`

	// RateLimit configures the per-(agent, tool) token bucket.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Quota configures the per-agent rolling-window quota.
	Quota QuotaConfig `yaml:"quota" mapstructure:"quota"`

	// Breaker configures the per-tool circuit breaker.
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// Oversight configures approvals and escalation.
	Oversight OversightConfig `yaml:"oversight" mapstructure:"oversight"`

	// Audit configures the audit sinks, applied in order.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// UpstreamConfig selects the upstream MCP server. Command and endpoint are
// mutually exclusive.
type UpstreamConfig struct {
	// Command launches the upstream over stdio.
	Command string `yaml:"command" mapstructure:"command"`
	// Args are passed to the command.
	Args []string `yaml:"args" mapstructure:"args"`
	// Endpoint connects to an SSE upstream.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,url"`
}

// ValidationConfig configures the built-in validators.
type ValidationConfig struct {
	// RequireJustification enables the justification validator.
	RequireJustification bool `yaml:"require_justification" mapstructure:"require_justification"`
	// MinJustificationLength is the minimum justification length.
	MinJustificationLength int `yaml:"min_justification_length" mapstructure:"min_justification_length" validate:"omitempty,min=1"`
	// RequiredKeywords maps a tool name to keywords, one of which must
	// appear in the justification.
	RequiredKeywords map[string][]string `yaml:"required_keywords" mapstructure:"required_keywords"`
}

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	Enabled      bool `yaml:"enabled" mapstructure:"enabled"`
	MaxPerMinute int  `yaml:"max_per_minute" mapstructure:"max_per_minute" validate:"omitempty,min=1"`
	Burst        int  `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=1"`
}

// QuotaConfig configures the rolling-window quota.
type QuotaConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	MaxActions  int  `yaml:"max_actions" mapstructure:"max_actions" validate:"omitempty,min=1"`
	WindowHours int  `yaml:"window_hours" mapstructure:"window_hours" validate:"omitempty,min=1"`
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"omitempty,min=1"`
	SuccessThreshold int  `yaml:"success_threshold" mapstructure:"success_threshold" validate:"omitempty,min=1"`
	TimeoutSeconds   int  `yaml:"timeout_seconds" mapstructure:"timeout_seconds" validate:"omitempty,min=1"`
}

// OversightConfig configures approvals and confidence escalation.
type OversightConfig struct {
	// HighRiskTools require approval for every call.
	HighRiskTools []string `yaml:"high_risk_tools" mapstructure:"high_risk_tools"`
	// HighRiskFunctions are regex prefixes of function names that require
	// approval.
	HighRiskFunctions []string `yaml:"high_risk_functions" mapstructure:"high_risk_functions"`
	// EscalationEnabled turns confidence escalation on.
	EscalationEnabled bool `yaml:"escalation_enabled" mapstructure:"escalation_enabled"`
	// Thresholds override the default 0.9/0.7/0.5 confidence bands.
	HighConfidence   float64 `yaml:"high_confidence" mapstructure:"high_confidence" validate:"omitempty,gt=0,lte=1"`
	MediumConfidence float64 `yaml:"medium_confidence" mapstructure:"medium_confidence" validate:"omitempty,gt=0,lte=1"`
	LowConfidence    float64 `yaml:"low_confidence" mapstructure:"low_confidence" validate:"omitempty,gt=0,lte=1"`
}

// AuditConfig configures the audit sinks.
type AuditConfig struct {
	// File is a JSON Lines audit log path. Empty disables the file sink.
	File string `yaml:"file" mapstructure:"file"`
	// SQLite is a database path for queryable audit history.
	SQLite string `yaml:"sqlite" mapstructure:"sqlite"`
	// HTTPURL posts each record to an HTTP collector.
	HTTPURL string `yaml:"http_url" mapstructure:"http_url" validate:"omitempty,url"`
	// HTTPHeaders are added to every collector request.
	HTTPHeaders map[string]string `yaml:"http_headers" mapstructure:"http_headers"`
	// Syslog enables the syslog sink with address host:port.
	Syslog string `yaml:"syslog" mapstructure:"syslog"`
	// SyslogNetwork is "udp" or "tcp".
	SyslogNetwork string `yaml:"syslog_network" mapstructure:"syslog_network" validate:"omitempty,oneof=udp tcp"`
	// Redact masks sensitive argument values in records.
	Redact bool `yaml:"redact" mapstructure:"redact"`
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.AgentID == "" {
		c.AgentID = "mcp-client"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RateLimit.MaxPerMinute == 0 {
		c.RateLimit.MaxPerMinute = 60
	}
	if c.Quota.MaxActions == 0 {
		c.Quota.MaxActions = 1000
	}
	if c.Quota.WindowHours == 0 {
		c.Quota.WindowHours = 24
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.SuccessThreshold == 0 {
		c.Breaker.SuccessThreshold = 2
	}
	if c.Breaker.TimeoutSeconds == 0 {
		c.Breaker.TimeoutSeconds = 60
	}
	if c.Validation.MinJustificationLength == 0 {
		c.Validation.MinJustificationLength = 10
	}
	if c.Audit.SyslogNetwork == "" {
		c.Audit.SyslogNetwork = "udp"
	}
}

// Validate validates the configuration using struct tags and cross-field
// rules. Errors carry the offending key path.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if c.Upstream.Command != "" && c.Upstream.Endpoint != "" {
		return fmt.Errorf("upstream: specify command OR endpoint, not both")
	}
	return nil
}

// formatValidationErrors converts validator errors into actionable messages.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q validation", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
