// Package health verifies a deployment after a successful apply. Probes
// come from the region capability profile, one list per deployed
// service; every probe runs to completion under its own timeout so the
// failure list is exhaustive, and health failures are never retried.
package health

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openlander/openlander/pkg/region"
)

// DefaultProbeTimeout bounds a probe whose spec declares no timeout.
const DefaultProbeTimeout = 10 * time.Second

// Params fills the placeholders in probe targets, such as {app},
// {env}, and {region}.
type Params map[string]string

func (p Params) expand(target string) string {
	for key, value := range p {
		target = strings.ReplaceAll(target, "{"+key+"}", value)
	}
	return target
}

// Probe is one concrete check derived from a profile's probe spec.
type Probe struct {
	// Service is the deployed service the probe belongs to.
	Service string `json:"service"`

	// Type is the probe mechanism: http, tcp, or dns.
	Type string `json:"type"`

	// Target is the fully expanded probe endpoint.
	Target string `json:"target"`

	// Timeout bounds a single execution.
	Timeout time.Duration `json:"timeout"`

	// Via routes the probe, empty for direct execution.
	Via string `json:"via,omitempty"`
}

// Name identifies the probe in results and logs.
func (p Probe) Name() string {
	return fmt.Sprintf("%s/%s %s", p.Service, p.Type, p.Target)
}

// BuildProbes derives the concrete probe list for the named services
// from a region profile. Targets have their placeholders expanded from
// params; a target left with an unresolved placeholder is an error so
// misconfigured probes surface before anything runs.
func BuildProbes(profile *region.Profile, services []string, params Params) ([]Probe, error) {
	if profile == nil {
		return nil, fmt.Errorf("no region profile")
	}

	names := make([]string, 0, len(services))
	names = append(names, services...)
	sort.Strings(names)

	var probes []Probe
	for _, svc := range names {
		cap, ok := profile.Services[svc]
		if !ok {
			return nil, fmt.Errorf("region %s does not host service %s", profile.Name, svc)
		}
		for _, spec := range cap.Probes {
			target := params.expand(spec.Target)
			if strings.Contains(target, "{") {
				return nil, fmt.Errorf("probe target %q has unresolved placeholders", target)
			}
			timeout := DefaultProbeTimeout
			if spec.TimeoutSeconds > 0 {
				timeout = time.Duration(spec.TimeoutSeconds) * time.Second
			}
			probes = append(probes, Probe{
				Service: svc,
				Type:    spec.Type,
				Target:  target,
				Timeout: timeout,
				Via:     spec.Via,
			})
		}
	}
	return probes, nil
}
