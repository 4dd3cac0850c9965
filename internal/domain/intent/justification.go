package intent

import (
	"fmt"
	"strings"
)

// DefaultMinJustificationLength is the minimum justification length applied
// when none is configured.
const DefaultMinJustificationLength = 10

// Justification requires a non-trivial justification string, optionally
// containing at least one tool-specific keyword (case-insensitive substring).
type Justification struct {
	minLength int
	// keywords maps tool name to the accepted keyword list.
	keywords map[string][]string
}

// JustificationOption configures a Justification validator.
type JustificationOption func(*Justification)

// WithMinLength sets the minimum justification length.
func WithMinLength(n int) JustificationOption {
	return func(v *Justification) { v.minLength = n }
}

// WithRequiredKeywords requires at least one of the listed keywords in the
// justification for calls to the named tool.
func WithRequiredKeywords(tool string, keywords ...string) JustificationOption {
	return func(v *Justification) {
		if v.keywords == nil {
			v.keywords = make(map[string][]string)
		}
		v.keywords[tool] = append(v.keywords[tool], keywords...)
	}
}

// NewJustification creates a Justification validator.
func NewJustification(opts ...JustificationOption) *Justification {
	v := &Justification{minLength: DefaultMinJustificationLength}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate implements Validator.
func (v *Justification) Validate(intent Intent) Result {
	just := strings.TrimSpace(intent.Justification)
	if just == "" {
		return Invalid("missing justification")
	}
	if len(just) < v.minLength {
		return Invalid(fmt.Sprintf("justification too short (min %d chars)", v.minLength))
	}

	keywords, ok := v.keywords[intent.ToolName]
	if !ok || len(keywords) == 0 {
		return OK()
	}

	lower := strings.ToLower(just)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return OK()
		}
	}
	return Invalid(fmt.Sprintf(
		"justification for %q must contain one of: %s",
		intent.ToolName, strings.Join(keywords, ", "),
	))
}

// Compile-time interface verification.
var _ Validator = (*Justification)(nil)
