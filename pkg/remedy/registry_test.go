package remedy

import (
	"testing"

	"github.com/openlander/openlander/pkg/classify"
)

func noopRule(id string, kind classify.Kind, risk Risk) Rule {
	return Rule{
		ID:      id,
		Kind:    kind,
		Risk:    risk,
		Summary: "test rule",
		Matches: func(*Request) bool { return true },
		Fixed:   func(Workspace, *Request) (bool, error) { return false, nil },
		Apply:   func(Workspace, *Request) (*Edit, error) { return &Edit{}, nil },
	}
}

func TestBuiltinRulesValidate(t *testing.T) {
	if _, err := NewRegistryWith(builtinRules()...); err != nil {
		t.Fatalf("Expected the builtin table to validate, got: %v", err)
	}
}

func TestRiskAssignments(t *testing.T) {
	reg := NewRegistry()

	expected := map[string]Risk{
		"tmpl-add-schema":           RiskLow,
		"tmpl-strip-trailing-comma": RiskLow,
		"param-prune-null":          RiskLow,
		"param-widen-allowed":       RiskMedium,
		"script-fix-tabs":           RiskLow,
		"script-add-import":         RiskMedium,
		"script-comment-line":       RiskHigh,
	}
	for id, want := range expected {
		risk, ok := reg.RiskOf(id)
		if !ok {
			t.Errorf("Expected rule %s in the table", id)
			continue
		}
		if risk != want {
			t.Errorf("Expected %s risk for %s, got %s", want, id, risk)
		}
	}
	if len(reg.Rules()) != len(expected) {
		t.Errorf("Expected %d rules, got %d", len(expected), len(reg.Rules()))
	}
	if _, ok := reg.RiskOf("no-such-rule"); ok {
		t.Error("Expected unknown ids to report absence")
	}
}

func TestFindReturnsFirstMatch(t *testing.T) {
	reg, err := NewRegistryWith(
		noopRule("first", classify.KindScriptDefect, RiskLow),
		noopRule("second", classify.KindScriptDefect, RiskLow),
	)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	req := &Request{Record: &classify.Record{Kind: classify.KindScriptDefect}}
	rule := reg.Find(req)
	if rule == nil || rule.ID != "first" {
		t.Errorf("Expected the first matching rule, got %+v", rule)
	}
}

func TestFindSkipsOtherKinds(t *testing.T) {
	reg, err := NewRegistryWith(noopRule("tmpl-only", classify.KindTemplateSyntax, RiskLow))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	req := &Request{Record: &classify.Record{Kind: classify.KindScriptDefect}}
	if rule := reg.Find(req); rule != nil {
		t.Errorf("Expected no rule for a different kind, got %s", rule.ID)
	}
	if rule := reg.Find(nil); rule != nil {
		t.Errorf("Expected no rule for a nil request, got %s", rule.ID)
	}
}

func TestNewRegistryWithRejectsBadRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"empty id", []Rule{noopRule("", classify.KindScriptDefect, RiskLow)}},
		{"duplicate id", []Rule{
			noopRule("dup", classify.KindScriptDefect, RiskLow),
			noopRule("dup", classify.KindScriptDefect, RiskLow),
		}},
		{"invalid risk", []Rule{noopRule("r", classify.KindScriptDefect, Risk("critical"))}},
		{"non-remediable kind", []Rule{noopRule("r", classify.KindTransient, RiskLow)}},
		{"unknown kind", []Rule{noopRule("r", classify.KindUnknown, RiskLow)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistryWith(tt.rules...); err == nil {
				t.Error("Expected an error")
			}
		})
	}

	bad := noopRule("r", classify.KindScriptDefect, RiskLow)
	bad.Apply = nil
	if _, err := NewRegistryWith(bad); err == nil {
		t.Error("Expected an error for a rule without a fixer")
	}
}
