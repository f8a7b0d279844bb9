package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openlander/openlander/pkg/engine"
	"github.com/openlander/openlander/pkg/region"
)

// guardrailInput is a production request that passes every builtin
// guardrail. Tests mutate it to trigger specific denials.
func guardrailInput() *Input {
	return &Input{
		Environment:   "prod-east",
		ResourceGroup: "rg-payments-prod",
		Request: &RequestInput{
			DesiredTiers:        map[string]string{"functions": "premium", "storage": "standard_zrs"},
			MaxAttempts:         5,
			MaxWallClockSeconds: 1800,
		},
		Plan: &PlanInput{
			Region: "eastus2",
			EffectiveTiers: map[string]string{
				"functions": "premium",
				"storage":   "standard_zrs",
			},
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestNewEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"production-regions",
		"tier-floors",
		"change-freeze",
		"attempt-budget",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluate_ProductionRegions(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name          string
		mutate        func(*Input)
		expectAllowed bool
	}{
		{
			name:          "approved region",
			mutate:        func(in *Input) {},
			expectAllowed: true,
		},
		{
			name: "unapproved region in production",
			mutate: func(in *Input) {
				in.Plan.Region = "southeastasia"
			},
			expectAllowed: false,
		},
		{
			name: "unapproved region outside production",
			mutate: func(in *Input) {
				in.Environment = "dev-sandbox"
				in.Plan.Region = "southeastasia"
			},
			expectAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := guardrailInput()
			tt.mutate(input)

			result, err := eng.Evaluate(context.Background(), input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}
		})
	}
}

func TestEvaluate_TierFloors(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	t.Run("consumption tier denied in production", func(t *testing.T) {
		input := guardrailInput()
		input.Plan.EffectiveTiers["functions"] = "consumption"

		result, err := eng.Evaluate(context.Background(), input)
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		if result.Allowed {
			t.Errorf("Expected denial, got allowed. Violations: %+v", result.Violations)
		}

		found := false
		for _, v := range result.Violations {
			if v.Policy == "tier-floors" && v.Resource == "functions" {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected a tier-floors violation for functions, got %+v", result.Violations)
		}
	})

	t.Run("consumption tier allowed outside production", func(t *testing.T) {
		input := guardrailInput()
		input.Environment = "staging"
		input.Plan.EffectiveTiers["functions"] = "consumption"

		result, err := eng.Evaluate(context.Background(), input)
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		if !result.Allowed {
			t.Errorf("Expected allowed, got denial: %+v", result.Violations)
		}
	})

	t.Run("downgrade warns but does not deny", func(t *testing.T) {
		input := guardrailInput()
		input.Plan.Downgrades = []DowngradeInput{
			{Service: "storage", Requested: "premium_lrs", Effective: "standard_zrs"},
		}

		result, err := eng.Evaluate(context.Background(), input)
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		if !result.Allowed {
			t.Errorf("Expected allowed, got denial: %+v", result.Violations)
		}

		found := false
		for _, v := range result.Violations {
			if v.Policy == "tier-floors" && v.Severity == SeverityWarning {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected a warning violation for the downgrade, got %+v", result.Violations)
		}
	})
}

func TestEvaluate_ChangeFreeze(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	input := guardrailInput()
	input.Frozen = true

	result, err := eng.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected frozen environment to be denied")
	}

	blocking := result.Blocking()
	if len(blocking) != 1 {
		t.Fatalf("Expected one blocking violation, got %+v", blocking)
	}
	if blocking[0].Policy != "change-freeze" {
		t.Errorf("Blocking policy = %s, want change-freeze", blocking[0].Policy)
	}
	if blocking[0].Severity != SeverityCritical {
		t.Errorf("Severity = %s, want critical", blocking[0].Severity)
	}
	if blocking[0].Resource != "prod-east" {
		t.Errorf("Resource = %s, want prod-east", blocking[0].Resource)
	}
}

func TestEvaluate_AttemptBudget(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name          string
		mutate        func(*Input)
		expectAllowed bool
	}{
		{
			name: "attempts over production ceiling",
			mutate: func(in *Input) {
				in.Request.MaxAttempts = 12
			},
			expectAllowed: false,
		},
		{
			name: "same budget outside production",
			mutate: func(in *Input) {
				in.Environment = "qa"
				in.Request.MaxAttempts = 12
			},
			expectAllowed: true,
		},
		{
			name: "health checks skipped in production",
			mutate: func(in *Input) {
				in.Request.SkipHealthChecks = true
			},
			expectAllowed: false,
		},
		{
			name: "health checks skipped outside production",
			mutate: func(in *Input) {
				in.Environment = "dev"
				in.Request.SkipHealthChecks = true
			},
			expectAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := guardrailInput()
			tt.mutate(input)

			result, err := eng.Evaluate(context.Background(), input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}
		})
	}
}

func TestEvaluate_DeterministicOrder(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), guardrailInput())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if !sort.StringsAreSorted(result.EvaluatedPolicies) {
		t.Errorf("Evaluated policies not sorted: %v", result.EvaluatedPolicies)
	}
	if len(result.EvaluatedPolicies) != 4 {
		t.Errorf("Expected 4 evaluated policies, got %v", result.EvaluatedPolicies)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policyName := "change-freeze"

	if err := eng.DisablePolicy(policyName); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	policy, err := eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if policy.Enabled {
		t.Error("Policy should be disabled")
	}

	// A frozen environment passes while the freeze policy is off.
	input := guardrailInput()
	input.Frozen = true

	result, err := eng.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected allowed with freeze policy disabled, got %+v", result.Violations)
	}

	if err := eng.EnablePolicy(policyName); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	result, err = eng.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected denial with freeze policy re-enabled")
	}

	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("Expected error disabling unknown policy")
	}
}

func TestLoadPolicies_CustomRego(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	dir := t.TempDir()
	custom := `# Resource groups must carry the rg- prefix.
# severity: error
package custom.policies.naming

import rego.v1

deny contains violation if {
	not startswith(input.resource_group, "rg-")

	violation := {
		"message": sprintf("Resource group %s must start with rg-", [input.resource_group]),
		"severity": "error",
		"resource": input.resource_group,
	}
}`
	path := filepath.Join(dir, "group-naming.rego")
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	loaded, err := eng.GetPolicy("group-naming")
	if err != nil {
		t.Fatalf("Custom policy not found: %v", err)
	}
	if loaded.Severity != SeverityError {
		t.Errorf("Severity = %s, want error from the header directive", loaded.Severity)
	}
	if loaded.Description == "" {
		t.Error("Description not extracted from header comment")
	}

	input := guardrailInput()
	input.ResourceGroup = "payments"

	result, err := eng.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Errorf("Expected custom policy to deny, got %+v", result.Violations)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "group-naming" && v.Resource == "payments" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a group-naming violation, got %+v", result.Violations)
	}
}

func TestLoadPolicies_CompileError(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.rego")
	if err := os.WriteFile(path, []byte("package broken\n\ndeny contains {"), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	// A single broken file loaded directly must fail loudly.
	if err := eng.LoadPolicies(context.Background(), []string{path}); err == nil {
		t.Error("Expected compile error for broken policy")
	}
}

func TestReplacePolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	builtins := len(eng.ListPolicies())

	custom := Policy{
		Name:     "extra",
		Rego:     "package custom.policies.extra\n\nimport rego.v1\n\ndeny contains msg if {\n\tinput.environment == \"forbidden\"\n\tmsg := \"environment is forbidden\"\n}",
		Severity: SeverityError,
		Enabled:  true,
	}

	if err := eng.ReplacePolicies(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}
	if got := len(eng.ListPolicies()); got != builtins+1 {
		t.Errorf("Policy count = %d, want %d", got, builtins+1)
	}

	// Replacing with an empty set drops the custom policy but keeps
	// the builtins.
	if err := eng.ReplacePolicies(context.Background(), nil); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}
	if got := len(eng.ListPolicies()); got != builtins {
		t.Errorf("Policy count = %d, want %d", got, builtins)
	}
	if _, err := eng.GetPolicy("extra"); err == nil {
		t.Error("Expected custom policy to be gone after replacement")
	}
}

func TestReloadPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	initialCount := len(eng.ListPolicies())

	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}

	if got := len(eng.ListPolicies()); got != initialCount {
		t.Errorf("Expected %d policies after reload, got %d", initialCount, got)
	}
}

func TestListPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No policies returned")
	}

	for _, p := range policies {
		if p.Name == "" {
			t.Error("Policy has empty name")
		}
		if p.Rego == "" {
			t.Error("Policy has empty Rego code")
		}
		if p.CreatedAt.IsZero() {
			t.Error("Policy has zero CreatedAt")
		}
	}

	names := make([]string, 0, len(policies))
	for _, p := range policies {
		names = append(names, p.Name)
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("Policies not sorted by name: %v", names)
	}
}

func TestGate_Check(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	gate := NewGate(eng, logger)

	req := &engine.DeploymentRequest{
		Environment:   "prod-east",
		ResourceGroup: "rg-payments",
		DesiredTiers:  map[string]string{"functions": "premium"},
		MaxAttempts:   4,
		MaxWallClock:  20 * time.Minute,
	}
	plan := &region.ResolvedPlan{
		Region:         "eastus2",
		EffectiveTiers: map[string]string{"functions": "premium"},
	}

	if err := gate.Check(context.Background(), req, plan); err != nil {
		t.Fatalf("Expected clean request to pass, got %v", err)
	}

	req.Metadata = map[string]string{engine.MetadataKeyFrozen: "true"}
	err = gate.Check(context.Background(), req, plan)
	if err == nil {
		t.Fatal("Expected frozen environment to be denied")
	}

	var denial *DenialError
	if !errors.As(err, &denial) {
		t.Fatalf("Expected DenialError, got %T: %v", err, err)
	}
	if len(denial.Violations) != 1 {
		t.Fatalf("Expected one violation, got %+v", denial.Violations)
	}
	if denial.Violations[0].Policy != "change-freeze" {
		t.Errorf("Policy = %s, want change-freeze", denial.Violations[0].Policy)
	}
}

func TestInputFor(t *testing.T) {
	req := &engine.DeploymentRequest{
		Environment:   "prod-east",
		ResourceGroup: "rg-payments",
		DesiredRegion: "eastus2",
		DesiredTiers:  map[string]string{"functions": "premium"},
		MaxAttempts:   4,
		MaxWallClock:  20 * time.Minute,
		SkipLint:      true,
		Metadata:      map[string]string{engine.MetadataKeyFrozen: "true"},
	}
	plan := &region.ResolvedPlan{
		Region:         "westus2",
		EffectiveTiers: map[string]string{"functions": "standard"},
		Downgrades: []region.Downgrade{
			{Service: "functions", Requested: "premium", Effective: "standard", Reason: "tier not offered"},
		},
	}

	input := InputFor(req, plan)

	if !input.Frozen {
		t.Error("Frozen not derived from request metadata")
	}
	if input.Request.MaxWallClockSeconds != 1200 {
		t.Errorf("MaxWallClockSeconds = %d, want 1200", input.Request.MaxWallClockSeconds)
	}
	if !input.Request.SkipLint {
		t.Error("SkipLint not carried over")
	}
	if input.Request.DesiredRegion != "eastus2" {
		t.Errorf("DesiredRegion = %s, want eastus2", input.Request.DesiredRegion)
	}
	if input.Plan.Region != "westus2" {
		t.Errorf("Plan region = %s, want westus2", input.Plan.Region)
	}
	if len(input.Plan.Downgrades) != 1 || input.Plan.Downgrades[0].Service != "functions" {
		t.Errorf("Downgrades not mapped: %+v", input.Plan.Downgrades)
	}

	// Without a plan the plan slice stays nil so rules guarding on
	// input.plan do not fire.
	if InputFor(req, nil).Plan != nil {
		t.Error("Expected nil plan input for nil plan")
	}
}
