package oversight

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TicketStatus is the lifecycle state of an approval ticket.
type TicketStatus string

const (
	// StatusPending awaits a human decision.
	StatusPending TicketStatus = "pending"
	// StatusApproved was granted by an approver.
	StatusApproved TicketStatus = "approved"
	// StatusRejected was declined by an approver.
	StatusRejected TicketStatus = "rejected"
)

// Risk levels attached to approval tickets.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// Workflow errors.
var (
	// ErrTicketNotFound indicates an unknown ticket ID.
	ErrTicketNotFound = errors.New("approval ticket not found")
	// ErrAlreadyDecided indicates the ticket left the pending state.
	ErrAlreadyDecided = errors.New("already decided")
)

// Ticket is a pending request for human authorization.
type Ticket struct {
	ID            string         `json:"id"`
	AgentID       string         `json:"agent_id"`
	ToolName      string         `json:"tool_name"`
	FunctionName  string         `json:"function_name"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	Justification string         `json:"justification,omitempty"`
	RiskLevel     string         `json:"risk_level"`
	Status        TicketStatus   `json:"status"`
	Approver      string         `json:"approver,omitempty"`
	RejectReason  string         `json:"reject_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	DecidedAt     time.Time      `json:"decided_at,omitzero"`
}

// Workflow manages approval tickets for high-risk operations. An operation
// is high-risk when its tool is listed, or its function matches any of the
// configured patterns. There is no built-in timeout; callers poll.
type Workflow struct {
	mu            sync.Mutex
	highRiskTools map[string]struct{}
	highRiskFuncs []*regexp.Regexp
	pending       map[string]*Ticket
	history       []*Ticket
	notify        func(*Ticket)
	now           func() time.Time
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithHighRiskTools marks tools as requiring approval.
func WithHighRiskTools(tools ...string) WorkflowOption {
	return func(w *Workflow) {
		for _, t := range tools {
			w.highRiskTools[t] = struct{}{}
		}
	}
}

// WithNotification installs a callback invoked synchronously for every new
// ticket.
func WithNotification(fn func(*Ticket)) WorkflowOption {
	return func(w *Workflow) { w.notify = fn }
}

// WithWorkflowClock overrides the clock.
func WithWorkflowClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow creates a Workflow. Each pattern in highRiskFunctions is a
// regular expression matched against the start of the function name;
// invalid patterns fail construction.
func NewWorkflow(highRiskFunctions []string, opts ...WorkflowOption) (*Workflow, error) {
	w := &Workflow{
		highRiskTools: make(map[string]struct{}),
		pending:       make(map[string]*Ticket),
		now:           time.Now,
	}
	for _, pattern := range highRiskFunctions {
		re, err := regexp.Compile(`\A(?:` + pattern + `)`)
		if err != nil {
			return nil, fmt.Errorf("high-risk function pattern %q: %w", pattern, err)
		}
		w.highRiskFuncs = append(w.highRiskFuncs, re)
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// RequiresApproval reports whether the operation belongs to the high-risk
// set.
func (w *Workflow) RequiresApproval(toolName, functionName string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.highRiskTools[toolName]; ok {
		return true
	}
	for _, re := range w.highRiskFuncs {
		if re.MatchString(functionName) {
			return true
		}
	}
	return false
}

// RequestApproval creates a pending ticket and invokes the notification
// callback.
func (w *Workflow) RequestApproval(agentID, toolName, functionName string, args map[string]any, justification, riskLevel string) *Ticket {
	if riskLevel == "" {
		riskLevel = RiskMedium
	}
	t := &Ticket{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		ToolName:      toolName,
		FunctionName:  functionName,
		Arguments:     args,
		Justification: justification,
		RiskLevel:     riskLevel,
		Status:        StatusPending,
		CreatedAt:     w.now(),
	}

	w.mu.Lock()
	w.pending[t.ID] = t
	notify := w.notify
	w.mu.Unlock()

	if notify != nil {
		notify(t)
	}
	return t
}

// Approve grants a pending ticket. Decided tickets fail with
// ErrAlreadyDecided.
func (w *Workflow) Approve(ticketID, approver string) error {
	return w.decide(ticketID, approver, StatusApproved, "")
}

// Reject declines a pending ticket with a reason. Decided tickets fail
// with ErrAlreadyDecided.
func (w *Workflow) Reject(ticketID, approver, reason string) error {
	return w.decide(ticketID, approver, StatusRejected, reason)
}

// decide transitions a pending ticket and moves it to history.
func (w *Workflow) decide(ticketID, approver string, status TicketStatus, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.pending[ticketID]
	if !ok {
		if w.inHistoryLocked(ticketID) {
			return ErrAlreadyDecided
		}
		return ErrTicketNotFound
	}

	t.Status = status
	t.Approver = approver
	t.RejectReason = reason
	t.DecidedAt = w.now()

	delete(w.pending, ticketID)
	w.history = append(w.history, t)
	return nil
}

// inHistoryLocked reports whether a ticket ID was already decided.
// Lock must be held.
func (w *Workflow) inHistoryLocked(ticketID string) bool {
	for _, t := range w.history {
		if t.ID == ticketID {
			return true
		}
	}
	return false
}

// Status returns the current status of a ticket, pending or decided.
func (w *Workflow) Status(ticketID string) (TicketStatus, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[ticketID]; ok {
		return t.Status, nil
	}
	for _, t := range w.history {
		if t.ID == ticketID {
			return t.Status, nil
		}
	}
	return "", ErrTicketNotFound
}

// Pending returns all pending tickets in creation order.
func (w *Workflow) Pending() []*Ticket {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*Ticket, 0, len(w.pending))
	for _, t := range w.pending {
		out = append(out, t)
	}
	return out
}

// IsApproved reports whether a matching request was already approved.
// Matching compares agent, tool, function, and deep-equal arguments.
// Approvals do not expire; re-submission after approval passes the gate.
func (w *Workflow) IsApproved(agentID, toolName, functionName string, args map[string]any) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, t := range w.history {
		if t.Status == StatusApproved &&
			t.AgentID == agentID &&
			t.ToolName == toolName &&
			t.FunctionName == functionName &&
			reflect.DeepEqual(t.Arguments, args) {
			return true
		}
	}
	return false
}
