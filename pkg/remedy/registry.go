package remedy

import (
	"fmt"

	"github.com/openlander/openlander/pkg/classify"
)

// Registry is the ordered remediation rule table. File order is
// priority: Find returns the first rule whose matcher accepts the
// failure, and callers apply at most that one rule per attempt.
type Registry struct {
	rules []Rule
}

// NewRegistry returns a registry holding the builtin rule table.
func NewRegistry() *Registry {
	return &Registry{rules: builtinRules()}
}

// NewRegistryWith builds a registry from a custom rule table.
func NewRegistryWith(rules ...Rule) (*Registry, error) {
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("remediation rule with empty id")
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("duplicate remediation rule id %s", rule.ID)
		}
		seen[rule.ID] = true

		if err := rule.Risk.Validate(); err != nil {
			return nil, fmt.Errorf("remediation rule %s: %w", rule.ID, err)
		}
		if err := rule.Kind.Validate(); err != nil {
			return nil, fmt.Errorf("remediation rule %s: %w", rule.ID, err)
		}
		if rule.Kind == classify.KindUnknown || !rule.Kind.Remediable() {
			return nil, fmt.Errorf("remediation rule %s targets non-remediable kind %s", rule.ID, rule.Kind)
		}
		if rule.Matches == nil || rule.Fixed == nil || rule.Apply == nil {
			return nil, fmt.Errorf("remediation rule %s is missing a matcher, pre-check, or fixer", rule.ID)
		}
	}
	return &Registry{rules: rules}, nil
}

// Find returns the first rule that applies to the failure, or nil when
// none does.
func (r *Registry) Find(req *Request) *Rule {
	if req == nil || req.Record == nil {
		return nil
	}
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.Kind != req.Record.Kind {
			continue
		}
		if rule.Matches(req) {
			return rule
		}
	}
	return nil
}

// RiskOf returns the risk tier of a rule by id. The second result is
// false for unknown ids. Callers consult this before any autonomous
// apply; the answer depends only on the table, never on the failure.
func (r *Registry) RiskOf(ruleID string) (Risk, bool) {
	for i := range r.rules {
		if r.rules[i].ID == ruleID {
			return r.rules[i].Risk, true
		}
	}
	return "", false
}

// Rules returns the table in priority order.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}
