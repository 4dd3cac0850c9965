package registry

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/enact-ai/enact/internal/domain/governance"
	"github.com/enact-ai/enact/internal/domain/policy"
)

func mustRuleBased(t *testing.T, rules []policy.Rule, defaultAllow bool) *policy.RuleBased {
	t.Helper()
	p, err := policy.NewRuleBased(rules, defaultAllow)
	if err != nil {
		t.Fatalf("NewRuleBased() error: %v", err)
	}
	return p
}

func TestRegistry_RegisterDuplicates(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.RegisterTool("files", "handle"); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}
	if err := r.RegisterTool("files", "other"); err == nil {
		t.Error("duplicate tool registration should fail")
	}

	if err := r.CreateGroup("readers", nil); err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	if err := r.CreateGroup("readers", nil); err == nil {
		t.Error("duplicate group creation should fail")
	}
}

func TestRegistry_GetToolAccess(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.RegisterTool("public", "pub-handle"); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}
	if err := r.RegisterTool("restricted", "res-handle", WithAllowedAgents("a1")); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}
	if err := r.CreateGroup("admins", nil); err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	if err := r.AddAgentToGroup("a2", "admins"); err != nil {
		t.Fatalf("AddAgentToGroup() error: %v", err)
	}
	if err := r.RegisterTool("grouped", "grp-handle", WithAllowedGroups("admins")); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}

	if h, err := r.GetTool("public", "anyone"); err != nil || h != "pub-handle" {
		t.Errorf("GetTool(public) = (%v, %v)", h, err)
	}
	if h, err := r.GetTool("restricted", "a1"); err != nil || h != "res-handle" {
		t.Errorf("GetTool(restricted, a1) = (%v, %v)", h, err)
	}
	if _, err := r.GetTool("restricted", "a2"); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("GetTool(restricted, a2) = %v, want ErrToolNotFound", err)
	}
	if h, err := r.GetTool("grouped", "a2"); err != nil || h != "grp-handle" {
		t.Errorf("GetTool(grouped, a2) = (%v, %v)", h, err)
	}
	if _, err := r.GetTool("missing", "a1"); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("GetTool(missing) = %v, want ErrToolNotFound", err)
	}
}

func TestRegistry_Expiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := New(WithClock(func() time.Time { return now }))

	if err := r.RegisterTool("temp", "handle", WithExpiry(now.Add(time.Hour))); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}

	if _, err := r.GetTool("temp", "a1"); err != nil {
		t.Fatalf("GetTool() before expiry error: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := r.GetTool("temp", "a1"); !errors.Is(err, ErrToolExpired) {
		t.Errorf("GetTool() after expiry = %v, want ErrToolExpired", err)
	}
	if _, err := r.PolicyFor("temp", "a1"); !errors.Is(err, ErrToolExpired) {
		t.Errorf("PolicyFor() after expiry = %v, want ErrToolExpired", err)
	}
}

func TestRegistry_ListToolsForAgent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := New(WithClock(func() time.Time { return now }))

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.RegisterTool(name, nil); err != nil {
			t.Fatalf("RegisterTool(%q) error: %v", name, err)
		}
	}
	if err := r.RegisterTool("gone", nil, WithExpiry(now.Add(-time.Minute))); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}
	if err := r.RegisterTool("private", nil, WithAllowedAgents("a2")); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}

	got := r.ListToolsForAgent("a1")
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListToolsForAgent() = %v, want %v", got, want)
	}
}

func TestRegistry_UnregisterTool(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.RegisterTool("files", nil); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}
	r.UnregisterTool("files")
	if _, err := r.GetTool("files", "a1"); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("GetTool() after unregister = %v, want ErrToolNotFound", err)
	}
	r.UnregisterTool("files")
}

func TestRegistry_PolicyPrecedence(t *testing.T) {
	t.Parallel()

	toolPol := mustRuleBased(t, []policy.Rule{
		{ID: "tool-rule", Tool: "*", Function: "*", Action: policy.ActionDeny, Reason: "tool says no"},
	}, false)
	agentPol := mustRuleBased(t, []policy.Rule{
		{ID: "agent-rule", Tool: "*", Function: "*", Action: policy.ActionAllow, Reason: "agent override"},
	}, false)
	groupPol := mustRuleBased(t, []policy.Rule{
		{ID: "group-rule", Tool: "*", Function: "*", Action: policy.ActionAllow, Reason: "group grant"},
	}, false)

	r := New()
	if err := r.RegisterTool("guarded", nil, WithPolicy(toolPol)); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}
	if err := r.RegisterTool("open", nil); err != nil {
		t.Fatalf("RegisterTool() error: %v", err)
	}
	r.SetAgentPolicy("a1", agentPol)
	if err := r.CreateGroup("team", groupPol); err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	if err := r.AddAgentToGroup("a1", "team"); err != nil {
		t.Fatalf("AddAgentToGroup() error: %v", err)
	}
	if err := r.AddAgentToGroup("a2", "team"); err != nil {
		t.Fatalf("AddAgentToGroup() error: %v", err)
	}

	// Tool policy beats agent and group policies.
	p, err := r.PolicyFor("guarded", "a1")
	if err != nil {
		t.Fatalf("PolicyFor() error: %v", err)
	}
	d, _ := p.Evaluate(context.Background(), governance.Request{AgentID: "a1", ToolName: "guarded"})
	if d.RuleID != "tool-rule" {
		t.Errorf("RuleID = %q, want tool-rule", d.RuleID)
	}

	// Agent policy beats group policy.
	p, err = r.PolicyFor("open", "a1")
	if err != nil {
		t.Fatalf("PolicyFor() error: %v", err)
	}
	d, _ = p.Evaluate(context.Background(), governance.Request{AgentID: "a1", ToolName: "open"})
	if d.RuleID != "agent-rule" {
		t.Errorf("RuleID = %q, want agent-rule", d.RuleID)
	}

	// Group policy applies when nothing more specific exists.
	p, err = r.PolicyFor("open", "a2")
	if err != nil {
		t.Fatalf("PolicyFor() error: %v", err)
	}
	d, _ = p.Evaluate(context.Background(), governance.Request{AgentID: "a2", ToolName: "open"})
	if d.RuleID != "group-rule" {
		t.Errorf("RuleID = %q, want group-rule", d.RuleID)
	}

	// No policy anywhere resolves to nil.
	p, err = r.PolicyFor("open", "a3")
	if err != nil {
		t.Fatalf("PolicyFor() error: %v", err)
	}
	if p != nil {
		t.Errorf("PolicyFor() = %v, want nil", p)
	}
}

func TestRegistry_GroupPolicyMerge(t *testing.T) {
	t.Parallel()

	first := mustRuleBased(t, []policy.Rule{
		{ID: "g1", Tool: "files", Function: "*", Action: policy.ActionAllow, Reason: "files ok"},
	}, true)
	second := mustRuleBased(t, []policy.Rule{
		{ID: "g2", Tool: "network", Function: "*", Action: policy.ActionDeny, Reason: "no network"},
	}, false)

	r := New()
	if err := r.CreateGroup("readers", first); err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	if err := r.CreateGroup("restricted", second); err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	if err := r.AddAgentToGroup("a1", "readers"); err != nil {
		t.Fatalf("AddAgentToGroup() error: %v", err)
	}
	if err := r.AddAgentToGroup("a1", "restricted"); err != nil {
		t.Fatalf("AddAgentToGroup() error: %v", err)
	}

	p, err := r.PolicyFor("anything", "a1")
	if err != nil {
		t.Fatalf("PolicyFor() error: %v", err)
	}
	merged, ok := p.(*policy.RuleBased)
	if !ok {
		t.Fatalf("PolicyFor() = %T, want merged *policy.RuleBased", p)
	}

	rules := merged.Rules()
	if len(rules) != 2 || rules[0].ID != "g1" || rules[1].ID != "g2" {
		t.Errorf("merged rules = %+v, want g1 then g2 in creation order", rules)
	}
	if !merged.DefaultAllow() {
		t.Error("merged default should come from the first group's policy")
	}

	// Rules from both groups take effect.
	d, _ := merged.Evaluate(context.Background(), governance.Request{AgentID: "a1", ToolName: "network"})
	if d.Allow || d.RuleID != "g2" {
		t.Errorf("Evaluate(network) = %+v, want deny by g2", d)
	}
}
