// Package policy models what a privacy request is allowed and required to
// do: which action runs (access or erasure), which data categories it
// targets, and which masking strategy applies to each erasure target. The
// execution engine treats policies as opaque input to connector calls; the
// projection pipeline uses them to narrow access results.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ActionType names the two privacy-request phases a rule can drive.
type ActionType string

const (
	// ActionAccess retrieves a subject's data.
	ActionAccess ActionType = "access"
	// ActionErasure masks or deletes a subject's data.
	ActionErasure ActionType = "erasure"
)

// DefaultMaskingStrategy is applied to erasure rules that do not pick one.
const DefaultMaskingStrategy = "null_rewrite"

// Rule targets a set of data categories with one action.
type Rule struct {
	Name           string     `yaml:"name"`
	ActionType     ActionType `yaml:"action_type"`
	DataCategories []string   `yaml:"data_categories"`
	// MaskingStrategy selects how erasure rewrites matching values. Only
	// meaningful for erasure rules.
	MaskingStrategy string `yaml:"masking_strategy,omitempty"`
}

// Policy is a named set of rules.
type Policy struct {
	Name  string `yaml:"name"`
	Rules []Rule `yaml:"rules"`
}

// Load reads and validates a policy from a YAML file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a policy from YAML bytes.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding policy: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("policy has no name")
	}
	for i := range p.Rules {
		rule := &p.Rules[i]
		switch rule.ActionType {
		case ActionAccess, ActionErasure:
		default:
			return nil, fmt.Errorf("rule %q: invalid action type %q", rule.Name, rule.ActionType)
		}
		if len(rule.DataCategories) == 0 {
			return nil, fmt.Errorf("rule %q: no data categories", rule.Name)
		}
		if rule.ActionType == ActionErasure && rule.MaskingStrategy == "" {
			rule.MaskingStrategy = DefaultMaskingStrategy
		}
	}
	return &p, nil
}

// RulesFor returns the rules driving the given action.
func (p *Policy) RulesFor(action ActionType) []Rule {
	var out []Rule
	for _, rule := range p.Rules {
		if rule.ActionType == action {
			out = append(out, rule)
		}
	}
	return out
}

// TargetCategories returns the union of data categories targeted by the
// given action's rules.
func (p *Policy) TargetCategories(action ActionType) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rule := range p.RulesFor(action) {
		for _, category := range rule.DataCategories {
			if _, dup := seen[category]; dup {
				continue
			}
			seen[category] = struct{}{}
			out = append(out, category)
		}
	}
	return out
}

// MaskingStrategyFor returns the strategy of the first erasure rule whose
// targets match the given field category, or the empty string when no rule
// applies.
func (p *Policy) MaskingStrategyFor(fieldCategory string) string {
	for _, rule := range p.RulesFor(ActionErasure) {
		for _, target := range rule.DataCategories {
			if MatchesCategory(target, fieldCategory) {
				return rule.MaskingStrategy
			}
		}
	}
	return ""
}

// MatchesCategory reports whether a field's declared category falls under a
// targeted category. Categories form a dot-separated taxonomy; a target
// matches itself and every descendant.
func MatchesCategory(target, fieldCategory string) bool {
	return fieldCategory == target || strings.HasPrefix(fieldCategory, target+".")
}
