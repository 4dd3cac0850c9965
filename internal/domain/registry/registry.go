// Package registry tracks the tools agents may call, the groups agents
// belong to, and the policies attached to each.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/enact-ai/enact/internal/domain/policy"
)

// ErrToolExpired marks a lookup of a tool whose expiry has passed. Callers
// translate it into a denial rather than a plain "not found".
var ErrToolExpired = errors.New("tool expired")

// ErrToolNotFound marks a lookup of an unknown or inaccessible tool.
var ErrToolNotFound = errors.New("tool not found")

// ToolEntry describes a registered tool. Handle is opaque to the registry;
// callers type-assert it back to whatever they registered.
type ToolEntry struct {
	Name          string
	Handle        any
	Policy        policy.Policy
	AllowedAgents map[string]struct{}
	AllowedGroups map[string]struct{}
	ExpiresAt     time.Time
}

// expired reports whether the entry's expiry has passed. Zero ExpiresAt
// means the tool never expires.
func (e *ToolEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now)
}

// accessibleBy reports whether the agent may see this tool. Tools with
// neither allowed agents nor allowed groups are public.
func (e *ToolEntry) accessibleBy(agentID string, memberOf func(agent, group string) bool) bool {
	if len(e.AllowedAgents) == 0 && len(e.AllowedGroups) == 0 {
		return true
	}
	if _, ok := e.AllowedAgents[agentID]; ok {
		return true
	}
	for g := range e.AllowedGroups {
		if memberOf(agentID, g) {
			return true
		}
	}
	return false
}

// group is an agent group with an optional shared policy.
type group struct {
	name    string
	policy  policy.Policy
	members map[string]struct{}
}

// Registry is the in-process tool and group catalog. All reads and writes
// go through the registry lock; policies themselves are immutable after
// construction and need no locking to evaluate.
type Registry struct {
	mu            sync.RWMutex
	tools         map[string]*ToolEntry
	groups        map[string]*group
	groupOrder    []string
	agentPolicies map[string]policy.Policy
	now           func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		tools:         make(map[string]*ToolEntry),
		groups:        make(map[string]*group),
		agentPolicies: make(map[string]policy.Policy),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterOption configures a tool registration.
type RegisterOption func(*ToolEntry)

// WithPolicy attaches a tool-level policy.
func WithPolicy(p policy.Policy) RegisterOption {
	return func(e *ToolEntry) { e.Policy = p }
}

// WithAllowedAgents restricts the tool to the listed agents.
func WithAllowedAgents(agents ...string) RegisterOption {
	return func(e *ToolEntry) {
		for _, a := range agents {
			e.AllowedAgents[a] = struct{}{}
		}
	}
}

// WithAllowedGroups restricts the tool to members of the listed groups.
func WithAllowedGroups(groups ...string) RegisterOption {
	return func(e *ToolEntry) {
		for _, g := range groups {
			e.AllowedGroups[g] = struct{}{}
		}
	}
}

// WithExpiry marks the tool as unavailable after the given time.
func WithExpiry(at time.Time) RegisterOption {
	return func(e *ToolEntry) { e.ExpiresAt = at }
}

// RegisterTool adds a tool under a unique name.
func (r *Registry) RegisterTool(name string, handle any, opts ...RegisterOption) error {
	entry := &ToolEntry{
		Name:          name,
		Handle:        handle,
		AllowedAgents: make(map[string]struct{}),
		AllowedGroups: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(entry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = entry
	return nil
}

// UnregisterTool removes a tool. Unknown names are a no-op.
func (r *Registry) UnregisterTool(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// CreateGroup adds an agent group under a unique name. A nil policy is
// allowed; the group then only grants access, not rules.
func (r *Registry) CreateGroup(name string, p policy.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[name]; ok {
		return fmt.Errorf("group %q already exists", name)
	}
	r.groups[name] = &group{
		name:    name,
		policy:  p,
		members: make(map[string]struct{}),
	}
	r.groupOrder = append(r.groupOrder, name)
	return nil
}

// AddAgentToGroup adds an agent to an existing group.
func (r *Registry) AddAgentToGroup(agentID, groupName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupName]
	if !ok {
		return fmt.Errorf("group %q does not exist", groupName)
	}
	g.members[agentID] = struct{}{}
	return nil
}

// SetAgentPolicy attaches an agent-specific policy override.
func (r *Registry) SetAgentPolicy(agentID string, p policy.Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentPolicies[agentID] = p
}

// GetTool returns the handle for a tool the agent may access. Expired tools
// fail with ErrToolExpired so the caller can audit a distinct denial; other
// misses fail with ErrToolNotFound.
func (r *Registry) GetTool(name, agentID string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q: %w", name, ErrToolNotFound)
	}
	if entry.expired(r.now()) {
		return nil, fmt.Errorf("tool %q: %w", name, ErrToolExpired)
	}
	if !entry.accessibleBy(agentID, r.memberOfLocked) {
		return nil, fmt.Errorf("tool %q: %w", name, ErrToolNotFound)
	}
	return entry.Handle, nil
}

// ListToolsForAgent returns the sorted names of all tools the agent may
// access, excluding expired entries.
func (r *Registry) ListToolsForAgent(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var names []string
	for name, entry := range r.tools {
		if entry.expired(now) {
			continue
		}
		if entry.accessibleBy(agentID, r.memberOfLocked) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// PolicyFor resolves the effective policy for a tool/agent pair. Precedence,
// highest first: the tool's own policy, the agent-specific policy, then the
// agent's group policies. When every group policy is rule-based, their rule
// lists are concatenated in group creation order; otherwise the first
// non-nil group policy wins. A nil return means no policy applies.
func (r *Registry) PolicyFor(toolName, agentID string) (policy.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.tools[toolName]; ok {
		if entry.expired(r.now()) {
			return nil, fmt.Errorf("tool %q: %w", toolName, ErrToolExpired)
		}
		if entry.Policy != nil {
			return entry.Policy, nil
		}
	}

	if p, ok := r.agentPolicies[agentID]; ok && p != nil {
		return p, nil
	}

	return r.groupPolicyLocked(agentID)
}

// groupPolicyLocked resolves the agent's group-derived policy.
// Lock must be held.
func (r *Registry) groupPolicyLocked(agentID string) (policy.Policy, error) {
	var policies []policy.Policy
	for _, name := range r.groupOrder {
		g := r.groups[name]
		if _, ok := g.members[agentID]; !ok {
			continue
		}
		if g.policy != nil {
			policies = append(policies, g.policy)
		}
	}

	switch len(policies) {
	case 0:
		return nil, nil
	case 1:
		return policies[0], nil
	}

	if merged, ok := mergeRuleBased(policies); ok {
		return merged, nil
	}
	return policies[0], nil
}

// mergeRuleBased concatenates the rule lists of the given policies when all
// of them are rule-based. The merged default comes from the first policy.
func mergeRuleBased(policies []policy.Policy) (policy.Policy, bool) {
	var rules []policy.Rule
	defaultAllow := false
	for i, p := range policies {
		rb, ok := p.(*policy.RuleBased)
		if !ok {
			return nil, false
		}
		if i == 0 {
			defaultAllow = rb.DefaultAllow()
		}
		rules = append(rules, rb.Rules()...)
	}

	merged, err := policy.NewRuleBased(rules, defaultAllow)
	if err != nil {
		// Source policies already compiled these rules.
		return nil, false
	}
	return merged, true
}

// memberOfLocked reports group membership. Lock must be held.
func (r *Registry) memberOfLocked(agentID, groupName string) bool {
	g, ok := r.groups[groupName]
	if !ok {
		return false
	}
	_, member := g.members[agentID]
	return member
}
