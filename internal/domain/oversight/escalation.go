package oversight

import "fmt"

// EscalationLevel grades how much human involvement a decision needs.
type EscalationLevel string

const (
	// EscalationNone proceeds without oversight.
	EscalationNone EscalationLevel = "none"
	// EscalationNotify informs a human but proceeds.
	EscalationNotify EscalationLevel = "notify"
	// EscalationReview requires a human review before proceeding.
	EscalationReview EscalationLevel = "review"
	// EscalationApproval requires explicit human approval.
	EscalationApproval EscalationLevel = "approval"
)

// Default confidence thresholds.
const (
	DefaultHighConfidence   = 0.9
	DefaultMediumConfidence = 0.7
	DefaultLowConfidence    = 0.5
)

// Thresholds maps confidence bands to escalation levels:
// >= High none, >= Medium notify, >= Low review, below Low approval.
type Thresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// withDefaults fills zero fields with their defaults.
func (t Thresholds) withDefaults() Thresholds {
	if t.High == 0 {
		t.High = DefaultHighConfidence
	}
	if t.Medium == 0 {
		t.Medium = DefaultMediumConfidence
	}
	if t.Low == 0 {
		t.Low = DefaultLowConfidence
	}
	return t
}

// EscalationDecision is the outcome of a confidence evaluation.
type EscalationDecision struct {
	Level         EscalationLevel
	Confidence    float64
	RequiresHuman bool
	Message       string
}

// EscalationCallback is invoked when a confidence evaluation lands in the
// callback's level.
type EscalationCallback func(agentID, toolName, functionName string, confidence float64)

// Escalation maps agent confidence to an escalation level and fires the
// optional per-level callbacks synchronously.
type Escalation struct {
	thresholds Thresholds
	onNotify   EscalationCallback
	onReview   EscalationCallback
	onApproval EscalationCallback
}

// EscalationOption configures an Escalation.
type EscalationOption func(*Escalation)

// WithThresholds overrides the default confidence thresholds.
func WithThresholds(t Thresholds) EscalationOption {
	return func(e *Escalation) { e.thresholds = t.withDefaults() }
}

// OnNotify installs the notify-level callback.
func OnNotify(fn EscalationCallback) EscalationOption {
	return func(e *Escalation) { e.onNotify = fn }
}

// OnReview installs the review-level callback.
func OnReview(fn EscalationCallback) EscalationOption {
	return func(e *Escalation) { e.onReview = fn }
}

// OnApproval installs the approval-level callback.
func OnApproval(fn EscalationCallback) EscalationOption {
	return func(e *Escalation) { e.onApproval = fn }
}

// NewEscalation creates an Escalation with default thresholds.
func NewEscalation(opts ...EscalationOption) *Escalation {
	e := &Escalation{thresholds: Thresholds{}.withDefaults()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate maps a confidence value to an escalation decision.
// Confidence must lie in [0, 1].
func (e *Escalation) Evaluate(confidence float64, agentID, toolName, functionName string) (EscalationDecision, error) {
	if confidence < 0 || confidence > 1 {
		return EscalationDecision{}, fmt.Errorf("confidence must be in [0, 1], got %v", confidence)
	}

	switch {
	case confidence >= e.thresholds.High:
		return EscalationDecision{
			Level:      EscalationNone,
			Confidence: confidence,
			Message:    "high confidence, proceeding",
		}, nil

	case confidence >= e.thresholds.Medium:
		if e.onNotify != nil {
			e.onNotify(agentID, toolName, functionName, confidence)
		}
		return EscalationDecision{
			Level:      EscalationNotify,
			Confidence: confidence,
			Message:    "medium confidence, human notified",
		}, nil

	case confidence >= e.thresholds.Low:
		if e.onReview != nil {
			e.onReview(agentID, toolName, functionName, confidence)
		}
		return EscalationDecision{
			Level:         EscalationReview,
			Confidence:    confidence,
			RequiresHuman: true,
			Message:       "low confidence, human review required",
		}, nil

	default:
		if e.onApproval != nil {
			e.onApproval(agentID, toolName, functionName, confidence)
		}
		return EscalationDecision{
			Level:         EscalationApproval,
			Confidence:    confidence,
			RequiresHuman: true,
			Message:       "very low confidence, human approval required",
		}, nil
	}
}
