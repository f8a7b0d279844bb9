// Package region models the deployment capability surface: which regions
// offer which service tiers, which health probes each service carries, and
// how a desired deployment maps onto that surface. Profiles are loaded once
// at process start and treated as immutable; adopting an updated profile
// requires a restart.
package region

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var builtinProfiles []byte

// Probe mechanisms a profile may declare.
const (
	ProbeTypeHTTP = "http"
	ProbeTypeTCP  = "tcp"
	ProbeTypeDNS  = "dns"
)

// ProbeViaBastion routes a probe through the remote probe runner inside
// the target network.
const ProbeViaBastion = "bastion"

// ProbeSpec declares one health probe for a service in a region.
type ProbeSpec struct {
	// Type is the probe mechanism: "http", "tcp", or "dns".
	Type string `yaml:"type" json:"type"`

	// Target is the probe endpoint. Placeholders of the form {name} are
	// expanded from probe parameters before the probe runs.
	Target string `yaml:"target" json:"target"`

	// TimeoutSeconds bounds a single execution of this probe.
	// Zero means the checker default.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// Via routes the probe: empty for direct, "bastion" for execution
	// through a remote probe runner inside the target network.
	Via string `yaml:"via,omitempty" json:"via,omitempty"`
}

// ServiceCapability describes what a region offers for one service.
type ServiceCapability struct {
	// Tiers lists the supported tiers, in no particular order. Tier
	// comparison always goes through the set's per-service tier order.
	Tiers []string `yaml:"tiers" json:"tiers"`

	// Probes are the liveness probes run after a successful apply.
	Probes []ProbeSpec `yaml:"probes,omitempty" json:"probes,omitempty"`
}

// Profile is the static capability matrix of one region.
type Profile struct {
	// Name is the canonical region name (e.g., "eastus2").
	Name string `yaml:"name" json:"name"`

	// DisplayName is the human-readable region name.
	DisplayName string `yaml:"display_name,omitempty" json:"display_name,omitempty"`

	// FullySupported is true when the region offers every service of the
	// deployment surface at every tier. Regions with tier gaps are still
	// usable; they cost downgrades.
	FullySupported bool `yaml:"fully_supported" json:"fully_supported"`

	// Services maps service name to what the region offers for it.
	Services map[string]ServiceCapability `yaml:"services" json:"services"`
}

// Supports reports whether the region offers the given tier for a service.
func (p *Profile) Supports(service, tier string) bool {
	cap, ok := p.Services[service]
	if !ok {
		return false
	}
	for _, t := range cap.Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// Set is the full capability surface: every known region plus the
// per-service tier orders and the tier-1 priority list used for
// deterministic tie-breaking.
type Set struct {
	// Profiles maps region name to its capability profile.
	Profiles map[string]*Profile `yaml:"-" json:"profiles"`

	// TierOrders maps service name to its tiers in ascending order
	// (cheapest first). Downgrades move left in this list, never right.
	TierOrders map[string][]string `yaml:"tier_orders" json:"tier_orders"`

	// Priority is the fixed tier-1 region order used to break ties when
	// several regions need the same number of downgrades.
	Priority []string `yaml:"priority" json:"priority"`
}

// setFile is the on-disk shape of a profile set.
type setFile struct {
	TierOrders map[string][]string `yaml:"tier_orders"`
	Priority   []string            `yaml:"priority"`
	Regions    []*Profile          `yaml:"regions"`
}

// BuiltinSet parses the capability profiles compiled into the binary.
func BuiltinSet() (*Set, error) {
	return parseSet(builtinProfiles)
}

// LoadSet reads a profile set from a YAML file, falling back to the
// builtin set when path is empty.
func LoadSet(path string) (*Set, error) {
	if path == "" {
		return BuiltinSet()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capability profiles: %w", err)
	}
	return parseSet(data)
}

func parseSet(data []byte) (*Set, error) {
	var f setFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse capability profiles: %w", err)
	}

	s := &Set{
		Profiles:   make(map[string]*Profile, len(f.Regions)),
		TierOrders: f.TierOrders,
		Priority:   f.Priority,
	}
	for _, p := range f.Regions {
		if p.Name == "" {
			return nil, fmt.Errorf("capability profile with empty region name")
		}
		if _, dup := s.Profiles[p.Name]; dup {
			return nil, fmt.Errorf("duplicate capability profile for region %s", p.Name)
		}
		s.Profiles[p.Name] = p
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// validate checks cross-references: every tier a region lists must exist in
// the service's tier order, and every priority entry must name a region.
func (s *Set) validate() error {
	if len(s.Profiles) == 0 {
		return fmt.Errorf("capability profile set has no regions")
	}
	for name, p := range s.Profiles {
		for svc, cap := range p.Services {
			order, ok := s.TierOrders[svc]
			if !ok {
				return fmt.Errorf("region %s lists service %s with no tier order", name, svc)
			}
			for _, tier := range cap.Tiers {
				if indexOf(order, tier) < 0 {
					return fmt.Errorf("region %s service %s lists tier %s not in tier order", name, svc, tier)
				}
			}
			for _, probe := range cap.Probes {
				switch probe.Type {
				case ProbeTypeHTTP, ProbeTypeTCP, ProbeTypeDNS:
				default:
					return fmt.Errorf("region %s service %s has unknown probe type %q", name, svc, probe.Type)
				}
				if probe.Target == "" {
					return fmt.Errorf("region %s service %s has a probe without a target", name, svc)
				}
			}
		}
	}
	for _, name := range s.Priority {
		if _, ok := s.Profiles[name]; !ok {
			return fmt.Errorf("priority list names unknown region %s", name)
		}
	}
	return nil
}

// Profile returns the capability profile of the named region.
func (s *Set) Profile(name string) (*Profile, bool) {
	p, ok := s.Profiles[name]
	return p, ok
}

// Regions returns all region names in lexical order.
func (s *Set) Regions() []string {
	names := make([]string, 0, len(s.Profiles))
	for name := range s.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TierRank returns the position of a tier in the service's ascending order.
// Higher rank means a more capable (and costlier) tier.
func (s *Set) TierRank(service, tier string) (int, bool) {
	order, ok := s.TierOrders[service]
	if !ok {
		return 0, false
	}
	idx := indexOf(order, tier)
	if idx < 0 {
		return 0, false
	}
	return idx, true
}

// priorityRank returns the tie-break position of a region. Regions absent
// from the priority list rank after every listed region.
func (s *Set) priorityRank(regionName string) int {
	if idx := indexOf(s.Priority, regionName); idx >= 0 {
		return idx
	}
	return len(s.Priority)
}

func indexOf(list []string, value string) int {
	for i, v := range list {
		if v == value {
			return i
		}
	}
	return -1
}
