package policy

import (
	"context"
	"fmt"
	"regexp"

	"github.com/enact-ai/enact/internal/domain/governance"
)

// Rule actions.
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// Rule is a single ordered governance rule. Tool, Function, and AgentID are
// regular expressions anchored to the full value; a bare "*" is accepted as
// shorthand for ".*". AgentID defaults to ".*" when empty.
type Rule struct {
	ID       string
	Tool     string
	Function string
	AgentID  string
	Action   string
	Reason   string
}

// compiledRule holds a rule with its patterns compiled at construction.
type compiledRule struct {
	rule     Rule
	tool     *regexp.Regexp
	function *regexp.Regexp
	agent    *regexp.Regexp
	allow    bool
}

// matches reports whether all three patterns match the request.
func (c *compiledRule) matches(req governance.Request) bool {
	return c.tool.MatchString(req.ToolName) &&
		c.function.MatchString(req.FunctionName) &&
		c.agent.MatchString(req.AgentID)
}

// anchorPattern normalizes a rule pattern and anchors it to the full value.
func anchorPattern(p string) string {
	if p == "" || p == "*" {
		p = ".*"
	}
	return `\A(?:` + p + `)\z`
}

// compileRule validates and compiles a rule's patterns.
func compileRule(r Rule) (compiledRule, error) {
	tool, err := regexp.Compile(anchorPattern(r.Tool))
	if err != nil {
		return compiledRule{}, fmt.Errorf("tool pattern %q: %w", r.Tool, err)
	}
	function, err := regexp.Compile(anchorPattern(r.Function))
	if err != nil {
		return compiledRule{}, fmt.Errorf("function pattern %q: %w", r.Function, err)
	}
	agent, err := regexp.Compile(anchorPattern(r.AgentID))
	if err != nil {
		return compiledRule{}, fmt.Errorf("agent_id pattern %q: %w", r.AgentID, err)
	}

	switch r.Action {
	case ActionAllow, ActionDeny:
	default:
		return compiledRule{}, fmt.Errorf("action %q: must be %q or %q", r.Action, ActionAllow, ActionDeny)
	}

	return compiledRule{
		rule:     r,
		tool:     tool,
		function: function,
		agent:    agent,
		allow:    r.Action == ActionAllow,
	}, nil
}

// RuleBased evaluates a request against an ordered rule list; the first rule
// whose three patterns all match determines the outcome. When no rule
// matches, the configured default applies with reason "no rule matched".
//
// Decisions depend only on (agent, tool, function), so results are cached in
// a bounded LRU keyed by an xxhash of the triple.
type RuleBased struct {
	rules        []compiledRule
	defaultAllow bool
	cache        *decisionCache
}

// RuleBasedOption configures a RuleBased policy.
type RuleBasedOption func(*RuleBased)

// WithDecisionCacheSize sets the LRU cache capacity (default 1024).
// A size of zero disables caching.
func WithDecisionCacheSize(size int) RuleBasedOption {
	return func(p *RuleBased) {
		if size <= 0 {
			p.cache = nil
			return
		}
		p.cache = newDecisionCache(size)
	}
}

// NewRuleBased compiles the rule list into a RuleBased policy.
// All patterns are compiled once here; invalid patterns or actions fail with
// the offending rule's index in the error.
func NewRuleBased(rules []Rule, defaultAllow bool, opts ...RuleBasedOption) (*RuleBased, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		c, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		compiled = append(compiled, c)
	}

	p := &RuleBased{
		rules:        compiled,
		defaultAllow: defaultAllow,
		cache:        newDecisionCache(1024),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Evaluate implements Policy with first-match semantics.
func (p *RuleBased) Evaluate(_ context.Context, req governance.Request) (governance.Decision, error) {
	var key uint64
	if p.cache != nil {
		key = decisionKey(req.AgentID, req.ToolName, req.FunctionName)
		if d, ok := p.cache.Get(key); ok {
			return d, nil
		}
	}

	decision := p.evaluate(req)

	if p.cache != nil {
		p.cache.Put(key, decision)
	}
	return decision, nil
}

// evaluate scans the rules in order and applies the default on no match.
func (p *RuleBased) evaluate(req governance.Request) governance.Decision {
	for _, c := range p.rules {
		if c.matches(req) {
			return governance.Decision{
				Allow:  c.allow,
				Reason: c.rule.Reason,
				RuleID: c.rule.ID,
			}
		}
	}
	return governance.Decision{Allow: p.defaultAllow, Reason: "no rule matched"}
}

// DefaultAllow reports the policy's fallback behavior.
func (p *RuleBased) DefaultAllow() bool {
	return p.defaultAllow
}

// Rules returns the original rule definitions in evaluation order.
func (p *RuleBased) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	for i, c := range p.rules {
		out[i] = c.rule
	}
	return out
}

// Compile-time interface verification.
var _ Policy = (*RuleBased)(nil)
