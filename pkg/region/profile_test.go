package region

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinSetParses(t *testing.T) {
	s, err := BuiltinSet()
	if err != nil {
		t.Fatalf("Expected builtin profiles to parse, got: %v", err)
	}
	if len(s.Profiles) == 0 {
		t.Fatal("Expected at least one builtin region")
	}
	if len(s.Priority) == 0 {
		t.Fatal("Expected a priority list")
	}
	for _, name := range s.Priority {
		if _, ok := s.Profile(name); !ok {
			t.Errorf("Priority region %s has no profile", name)
		}
	}
}

func TestBuiltinFullySupportedRegionsHaveAllTiers(t *testing.T) {
	s, err := BuiltinSet()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for name, p := range s.Profiles {
		if !p.FullySupported {
			continue
		}
		for svc, cap := range p.Services {
			if len(cap.Tiers) != len(s.TierOrders[svc]) {
				t.Errorf("Region %s is marked fully supported but %s offers %d of %d tiers",
					name, svc, len(cap.Tiers), len(s.TierOrders[svc]))
			}
		}
	}
}

func TestLoadSetFromFile(t *testing.T) {
	content := `
tier_orders:
  functions: [consumption, premium]
priority: [onlyregion]
regions:
  - name: onlyregion
    fully_supported: true
    services:
      functions:
        tiers: [consumption, premium]
`
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	s, err := LoadSet(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, ok := s.Profile("onlyregion"); !ok {
		t.Error("Expected onlyregion profile")
	}
	rank, ok := s.TierRank("functions", "premium")
	if !ok || rank != 1 {
		t.Errorf("Expected premium rank 1, got %d (ok=%v)", rank, ok)
	}
}

func TestLoadSetEmptyPathUsesBuiltin(t *testing.T) {
	s, err := LoadSet("")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(s.Profiles) == 0 {
		t.Fatal("Expected builtin profiles")
	}
}

func TestParseSetRejectsUnknownTier(t *testing.T) {
	content := `
tier_orders:
  functions: [consumption, premium]
regions:
  - name: badregion
    services:
      functions:
        tiers: [hyperscale]
`
	if _, err := parseSet([]byte(content)); err == nil {
		t.Fatal("Expected an error for a tier missing from the tier order")
	}
}

func TestParseSetRejectsUnknownPriorityRegion(t *testing.T) {
	content := `
tier_orders:
  functions: [consumption]
priority: [ghost]
regions:
  - name: real
    services:
      functions:
        tiers: [consumption]
`
	if _, err := parseSet([]byte(content)); err == nil {
		t.Fatal("Expected an error for a priority entry without a profile")
	}
}

func TestParseSetRejectsBadProbe(t *testing.T) {
	content := `
tier_orders:
  functions: [consumption]
regions:
  - name: real
    services:
      functions:
        tiers: [consumption]
        probes:
          - type: carrier_pigeon
            target: somewhere
`
	if _, err := parseSet([]byte(content)); err == nil {
		t.Fatal("Expected an error for an unknown probe type")
	}
}

func TestSupports(t *testing.T) {
	p := &Profile{
		Name: "r",
		Services: map[string]ServiceCapability{
			"functions": {Tiers: []string{"consumption", "standard"}},
		},
	}
	if !p.Supports("functions", "standard") {
		t.Error("Expected standard functions to be supported")
	}
	if p.Supports("functions", "premium") {
		t.Error("Expected premium functions to be unsupported")
	}
	if p.Supports("postgres", "burstable") {
		t.Error("Expected unknown service to be unsupported")
	}
}
