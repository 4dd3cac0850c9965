package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/enact-ai/enact/internal/domain/governance"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadPolicyFile_YAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "policy.yaml", `
default_allow: true
rules:
  - id: deny-payments
    tool: payments
    function: "*"
    action: deny
    reason: payments are gated
  - id: allow-reads
    tool: files
    function: read
    action: allow
    reason: reads are safe
`)

	p, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile() error: %v", err)
	}

	rules := p.Rules()
	if len(rules) != 2 || rules[0].ID != "deny-payments" {
		t.Fatalf("Rules() = %+v", rules)
	}
	if !p.DefaultAllow() {
		t.Error("DefaultAllow() = false, want true")
	}

	d, err := p.Evaluate(context.Background(), governance.Request{
		AgentID: "a1", ToolName: "payments", FunctionName: "charge",
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Allow || d.Reason != "payments are gated" {
		t.Errorf("Evaluate() = %+v", d)
	}
}

func TestLoadPolicyFile_JSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "policy.json", `{
		"default_allow": false,
		"rules": [
			{"id": "r1", "tool": "files", "function": ".*", "action": "allow", "reason": "files ok"}
		]
	}`)

	p, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile() error: %v", err)
	}

	d, err := p.Evaluate(context.Background(), governance.Request{ToolName: "network"})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if d.Allow {
		t.Errorf("Evaluate() = %+v, want default deny", d)
	}
}

func TestLoadPolicyFile_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		if _, err := LoadPolicyFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("LoadPolicyFile() of a missing file should fail")
		}
	})

	t.Run("invalid action carries rule index", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "policy.yaml", `
rules:
  - id: r1
    tool: files
    action: allow
  - id: r2
    tool: network
    action: permit
`)
		_, err := LoadPolicyFile(path)
		if err == nil {
			t.Fatal("LoadPolicyFile() with an invalid action should fail")
		}
		if !strings.Contains(err.Error(), "rule 1") {
			t.Errorf("error = %v, want the offending rule index", err)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "policy.yaml", "rules: [")
		if _, err := LoadPolicyFile(path); err == nil {
			t.Error("LoadPolicyFile() of malformed YAML should fail")
		}
	})
}
