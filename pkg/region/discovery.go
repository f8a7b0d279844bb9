package region

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"
)

// CapabilityLister fetches live tier availability for one service in one
// region, typically by querying the platform CLI.
type CapabilityLister interface {
	ListSupportedTiers(ctx context.Context, regionName, service string) ([]string, error)
}

// CapabilityCache persists discovery results between invocations so
// repeated refreshes do not hammer the platform API.
type CapabilityCache interface {
	// GetCapability returns the cached tiers and whether the entry is
	// still fresh. A missing entry returns fresh=false and no error.
	GetCapability(ctx context.Context, regionName, service string) ([]string, bool, error)

	// PutCapability stores the tiers with a time-to-live.
	PutCapability(ctx context.Context, regionName, service string, tiers []string, ttl time.Duration) error
}

// DiscoverOptions tunes a discovery pass.
type DiscoverOptions struct {
	// Concurrency bounds parallel platform queries. Zero means 4.
	Concurrency int64

	// TTL is how long cached capability entries stay fresh. Zero means
	// one hour.
	TTL time.Duration

	// Refresh bypasses the cache and queries the platform directly.
	Refresh bool
}

// Snapshot is the result of one discovery pass.
type Snapshot struct {
	// GeneratedAt is when the pass finished.
	GeneratedAt time.Time `json:"generated_at"`

	// Capabilities maps region name to service name to discovered tiers.
	Capabilities map[string]map[string][]string `json:"capabilities"`

	// Errors maps "region/service" to the failure that kept it out of
	// the snapshot.
	Errors map[string]string `json:"errors,omitempty"`
}

// Discoverer refreshes region capability data from the live platform.
// Discovery never mutates the in-process profile set; it produces a
// snapshot the operator can render to a profiles file and adopt with a
// restart.
type Discoverer struct {
	lister CapabilityLister
	cache  CapabilityCache
	logger zerolog.Logger
}

// NewDiscoverer creates a discoverer. The cache may be nil, in which case
// every pass queries the platform.
func NewDiscoverer(lister CapabilityLister, cache CapabilityCache, logger zerolog.Logger) *Discoverer {
	return &Discoverer{
		lister: lister,
		cache:  cache,
		logger: logger.With().Str("component", "region-discovery").Logger(),
	}
}

// Discover queries live tier availability for every region/service pair in
// the base set, bounded by opts.Concurrency. Failed pairs are recorded in
// the snapshot's error map rather than failing the whole pass.
func (d *Discoverer) Discover(ctx context.Context, base *Set, opts DiscoverOptions) (*Snapshot, error) {
	if d.lister == nil {
		return nil, fmt.Errorf("discovery requires a capability lister")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	type pair struct{ regionName, service string }
	var pairs []pair
	for _, regionName := range base.Regions() {
		profile, _ := base.Profile(regionName)
		services := make([]string, 0, len(profile.Services))
		for svc := range profile.Services {
			services = append(services, svc)
		}
		sort.Strings(services)
		for _, svc := range services {
			pairs = append(pairs, pair{regionName, svc})
		}
	}

	snap := &Snapshot{
		GeneratedAt:  time.Now().UTC(),
		Capabilities: make(map[string]map[string][]string),
		Errors:       make(map[string]string),
	}
	results := make([][]string, len(pairs))
	errs := make([]error, len(pairs))

	sem := semaphore.NewWeighted(concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pairs {
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, fmt.Errorf("discovery cancelled: %w", err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i], errs[i] = d.discoverOne(gctx, p.regionName, p.service, ttl, opts.Refresh)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, p := range pairs {
		if errs[i] != nil {
			snap.Errors[p.regionName+"/"+p.service] = errs[i].Error()
			continue
		}
		if snap.Capabilities[p.regionName] == nil {
			snap.Capabilities[p.regionName] = make(map[string][]string)
		}
		snap.Capabilities[p.regionName][p.service] = results[i]
	}

	d.logger.Info().
		Int("pairs", len(pairs)).
		Int("failed", len(snap.Errors)).
		Msg("capability discovery pass complete")
	return snap, nil
}

func (d *Discoverer) discoverOne(ctx context.Context, regionName, service string, ttl time.Duration, refresh bool) ([]string, error) {
	if d.cache != nil && !refresh {
		tiers, fresh, err := d.cache.GetCapability(ctx, regionName, service)
		if err != nil {
			d.logger.Warn().Err(err).
				Str("region", regionName).
				Str("service", service).
				Msg("capability cache read failed, querying platform")
		} else if fresh {
			return tiers, nil
		}
	}

	tiers, err := d.lister.ListSupportedTiers(ctx, regionName, service)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers for %s/%s: %w", regionName, service, err)
	}
	sort.Strings(tiers)

	if d.cache != nil {
		if err := d.cache.PutCapability(ctx, regionName, service, tiers, ttl); err != nil {
			d.logger.Warn().Err(err).
				Str("region", regionName).
				Str("service", service).
				Msg("capability cache write failed")
		}
	}
	return tiers, nil
}

// RenderProfiles merges a snapshot into the base set and renders a profile
// YAML document for operator review. Tier lists come from the snapshot
// where discovery succeeded and from the base set elsewhere; probes, tier
// orders, and the priority list always come from the base set. Tiers the
// snapshot reports that are absent from the service's tier order are
// dropped, since the resolver could not rank them.
func RenderProfiles(base *Set, snap *Snapshot) ([]byte, error) {
	out := setFile{
		TierOrders: base.TierOrders,
		Priority:   base.Priority,
	}
	for _, regionName := range base.Regions() {
		profile, _ := base.Profile(regionName)
		merged := &Profile{
			Name:           profile.Name,
			DisplayName:    profile.DisplayName,
			FullySupported: true,
			Services:       make(map[string]ServiceCapability, len(profile.Services)),
		}
		for svc, cap := range profile.Services {
			tiers := cap.Tiers
			if discovered, ok := snap.Capabilities[regionName][svc]; ok {
				tiers = filterKnownTiers(base, svc, discovered)
			}
			ordered := orderTiers(base, svc, tiers)
			merged.Services[svc] = ServiceCapability{
				Tiers:  ordered,
				Probes: cap.Probes,
			}
			if len(ordered) < len(base.TierOrders[svc]) {
				merged.FullySupported = false
			}
		}
		out.Regions = append(out.Regions, merged)
	}
	return yaml.Marshal(&out)
}

func filterKnownTiers(base *Set, service string, tiers []string) []string {
	var known []string
	for _, tier := range tiers {
		if _, ok := base.TierRank(service, tier); ok {
			known = append(known, tier)
		}
	}
	return known
}

// orderTiers returns the tiers sorted by the service's tier order.
func orderTiers(base *Set, service string, tiers []string) []string {
	out := append([]string(nil), tiers...)
	sort.Slice(out, func(i, j int) bool {
		ri, _ := base.TierRank(service, out[i])
		rj, _ := base.TierRank(service, out[j])
		return ri < rj
	})
	return out
}
