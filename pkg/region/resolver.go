package region

import (
	"errors"
	"fmt"
	"sort"
)

// NoViableRegionError indicates that no region in the capability surface
// can host the requested deployment. It is fatal and never retried.
type NoViableRegionError struct {
	// Region is the desired region when one was requested, otherwise empty.
	Region string

	// Reason explains why resolution failed.
	Reason string
}

// Error implements the error interface.
func (e *NoViableRegionError) Error() string {
	if e.Region != "" {
		return fmt.Sprintf("no viable region: %s: %s", e.Region, e.Reason)
	}
	return fmt.Sprintf("no viable region: %s", e.Reason)
}

// IsNoViableRegion returns true if the error chain contains a
// NoViableRegionError.
func IsNoViableRegion(err error) bool {
	var e *NoViableRegionError
	return errors.As(err, &e)
}

// Downgrade records one forced tier substitution in a resolved plan.
type Downgrade struct {
	// Service is the service whose tier was substituted.
	Service string `json:"service"`

	// Requested is the tier the caller asked for.
	Requested string `json:"requested"`

	// Effective is the tier the plan will deploy.
	Effective string `json:"effective"`

	// Reason explains the substitution.
	Reason string `json:"reason"`
}

// ResolvedPlan is the output of region resolution: the chosen region, the
// effective tier for every requested service, and the downgrades that were
// required to get there. Every effective tier is supported by the chosen
// region; when no substitution occurred the downgrade list is empty.
type ResolvedPlan struct {
	// Region is the chosen deployment region.
	Region string `json:"region"`

	// EffectiveTiers maps each requested service to the tier that will
	// actually deploy.
	EffectiveTiers map[string]string `json:"effective_tiers"`

	// Downgrades lists every forced substitution, in service name order.
	Downgrades []Downgrade `json:"downgrades,omitempty"`
}

// ResolveRequest describes one resolution: the optional pinned region, the
// desired tier per service, and regions to exclude (after capacity
// failures).
type ResolveRequest struct {
	// DesiredRegion pins resolution to one region when non-empty.
	DesiredRegion string

	// DesiredTiers maps service name to the requested tier.
	DesiredTiers map[string]string

	// Exclude lists regions resolution must not choose.
	Exclude []string
}

// Resolver picks a deployment region and effective tiers from the
// capability surface. Resolution is a pure function of its inputs: the
// same request against the same set always yields the same plan.
type Resolver struct {
	set *Set
}

// NewResolver creates a resolver over an immutable capability set.
func NewResolver(set *Set) *Resolver {
	return &Resolver{set: set}
}

// Resolve picks the target region and effective tiers for a request.
//
// A pinned region absent from the capability surface fails immediately
// with NoViableRegionError. A pinned region with tier gaps is still used;
// the gaps become downgrades. Without a pinned region every non-excluded
// region is evaluated and the one needing the fewest downgrades wins,
// ties broken by the set's priority list and then by region name.
func (r *Resolver) Resolve(req ResolveRequest) (*ResolvedPlan, error) {
	if len(req.DesiredTiers) == 0 {
		return nil, fmt.Errorf("resolve: no desired tiers given")
	}
	for svc, tier := range req.DesiredTiers {
		if _, ok := r.set.TierRank(svc, tier); !ok {
			return nil, fmt.Errorf("resolve: unknown service/tier pair %s/%s", svc, tier)
		}
	}

	excluded := make(map[string]bool, len(req.Exclude))
	for _, name := range req.Exclude {
		excluded[name] = true
	}

	if req.DesiredRegion != "" {
		if excluded[req.DesiredRegion] {
			return nil, &NoViableRegionError{
				Region: req.DesiredRegion,
				Reason: "region excluded after a capacity failure",
			}
		}
		profile, ok := r.set.Profile(req.DesiredRegion)
		if !ok {
			return nil, &NoViableRegionError{
				Region: req.DesiredRegion,
				Reason: "region is not part of the deployment surface",
			}
		}
		return r.resolveIn(profile, req.DesiredTiers)
	}

	type candidate struct {
		plan     *ResolvedPlan
		priority int
	}
	var candidates []candidate
	for _, name := range r.set.Regions() {
		if excluded[name] {
			continue
		}
		profile, _ := r.set.Profile(name)
		plan, err := r.resolveIn(profile, req.DesiredTiers)
		if err != nil {
			// Region cannot host the full request at any tier.
			continue
		}
		candidates = append(candidates, candidate{
			plan:     plan,
			priority: r.set.priorityRank(name),
		})
	}
	if len(candidates) == 0 {
		return nil, &NoViableRegionError{
			Reason: "no region supports every requested service",
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := len(candidates[i].plan.Downgrades), len(candidates[j].plan.Downgrades)
		if di != dj {
			return di < dj
		}
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].plan.Region < candidates[j].plan.Region
	})
	return candidates[0].plan, nil
}

// resolveIn maps the desired tiers onto one region, downgrading where the
// region does not offer the requested tier. The substitute is always the
// highest supported tier at or below the request; resolution never
// upgrades. A service the region cannot host at any usable tier makes the
// region non-viable.
func (r *Resolver) resolveIn(profile *Profile, desired map[string]string) (*ResolvedPlan, error) {
	services := make([]string, 0, len(desired))
	for svc := range desired {
		services = append(services, svc)
	}
	sort.Strings(services)

	plan := &ResolvedPlan{
		Region:         profile.Name,
		EffectiveTiers: make(map[string]string, len(desired)),
	}
	for _, svc := range services {
		requested := desired[svc]
		if profile.Supports(svc, requested) {
			plan.EffectiveTiers[svc] = requested
			continue
		}
		effective, ok := r.bestLowerTier(profile, svc, requested)
		if !ok {
			return nil, &NoViableRegionError{
				Region: profile.Name,
				Reason: fmt.Sprintf("service %s has no supported tier at or below %s", svc, requested),
			}
		}
		plan.EffectiveTiers[svc] = effective
		plan.Downgrades = append(plan.Downgrades, Downgrade{
			Service:   svc,
			Requested: requested,
			Effective: effective,
			Reason:    fmt.Sprintf("tier %s is not offered for %s in %s", requested, svc, profile.Name),
		})
	}
	return plan, nil
}

// bestLowerTier finds the highest tier the region supports that does not
// exceed the requested tier in the service's tier order.
func (r *Resolver) bestLowerTier(profile *Profile, service, requested string) (string, bool) {
	requestedRank, ok := r.set.TierRank(service, requested)
	if !ok {
		return "", false
	}
	cap, ok := profile.Services[service]
	if !ok {
		return "", false
	}
	best, bestRank := "", -1
	for _, tier := range cap.Tiers {
		rank, ok := r.set.TierRank(service, tier)
		if !ok {
			continue
		}
		if rank <= requestedRank && rank > bestRank {
			best, bestRank = tier, rank
		}
	}
	return best, bestRank >= 0
}
