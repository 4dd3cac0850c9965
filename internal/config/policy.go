package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/enact-ai/enact/internal/domain/policy"
)

// PolicyFileSchema is the on-disk shape shared by YAML and JSON policy
// files.
type PolicyFileSchema struct {
	DefaultAllow bool             `yaml:"default_allow" json:"default_allow"`
	Rules        []PolicyRuleSpec `yaml:"rules" json:"rules"`
}

// PolicyRuleSpec is one rule entry in a policy file.
type PolicyRuleSpec struct {
	ID       string `yaml:"id" json:"id"`
	Tool     string `yaml:"tool" json:"tool"`
	Function string `yaml:"function" json:"function"`
	AgentID  string `yaml:"agent_id" json:"agent_id"`
	Action   string `yaml:"action" json:"action"`
	Reason   string `yaml:"reason" json:"reason"`
}

// LoadPolicyFile parses a YAML or JSON policy file into a rule-based
// policy. The format is chosen by extension (.json is JSON, everything
// else YAML). Invalid regexes or actions fail with the offending rule's
// index.
func LoadPolicyFile(path string) (*policy.RuleBased, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var schema PolicyFileSchema
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &schema); err != nil {
			return nil, fmt.Errorf("parse policy file %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &schema); err != nil {
			return nil, fmt.Errorf("parse policy file %s: %w", path, err)
		}
	}

	rules := make([]policy.Rule, len(schema.Rules))
	for i, spec := range schema.Rules {
		rules[i] = policy.Rule{
			ID:       spec.ID,
			Tool:     spec.Tool,
			Function: spec.Function,
			AgentID:  spec.AgentID,
			Action:   spec.Action,
			Reason:   spec.Reason,
		}
	}

	p, err := policy.NewRuleBased(rules, schema.DefaultAllow)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}
