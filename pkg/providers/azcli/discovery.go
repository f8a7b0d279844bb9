package azcli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// skuAPIVersion pins the resource-SKU listing API. Bump deliberately:
// newer versions change tier naming for some provider namespaces.
const skuAPIVersion = "2021-06-01"

// skuResource locates the SKU listing for one service inside its
// provider namespace.
type skuResource struct {
	namespace    string
	resourceType string
}

// skuResources maps the orchestrator's service names onto the provider
// namespaces that publish their SKUs. Services missing here cannot be
// discovered live and must come from the static profile set.
var skuResources = map[string]skuResource{
	"functions":   {namespace: "Microsoft.Web", resourceType: "functionAppPlans"},
	"app_service": {namespace: "Microsoft.Web", resourceType: "serverFarms"},
	"postgres":    {namespace: "Microsoft.DBforPostgreSQL", resourceType: "flexibleServers"},
	"storage":     {namespace: "Microsoft.Storage", resourceType: "storageAccounts"},
	"servicebus":  {namespace: "Microsoft.ServiceBus", resourceType: "namespaces"},
}

// skuListing mirrors the wire shape of a provider SKU listing.
type skuListing struct {
	Value []struct {
		ResourceType string   `json:"resourceType"`
		Name         string   `json:"name"`
		Tier         string   `json:"tier"`
		Locations    []string `json:"locations"`
	} `json:"value"`
}

// ListSupportedTiers queries the platform for the tiers one service
// offers in one region. An empty slice with a nil error means the
// service is genuinely unavailable there, which the resolver treats as
// a hard capability gap rather than a discovery failure.
func (c *Client) ListSupportedTiers(ctx context.Context, regionName, service string) ([]string, error) {
	res, ok := skuResources[service]
	if !ok {
		return nil, fmt.Errorf("no provider namespace for service %s", service)
	}

	url := fmt.Sprintf("/subscriptions/{subscriptionId}/providers/%s/skus?api-version=%s&$filter=location eq '%s'",
		res.namespace, skuAPIVersion, regionName)
	result, err := c.invoke(ctx, c.discoverTimeout,
		"rest", "--method", "get", "--url", url, "--output", "json")
	if err != nil {
		return nil, err
	}
	if result.exitCode != 0 {
		return nil, fmt.Errorf("failed to list %s SKUs in %s: %s",
			service, regionName, firstDiagnosticLine(result.diagnostic()))
	}

	var listing skuListing
	if err := json.Unmarshal([]byte(result.stdout), &listing); err != nil {
		return nil, fmt.Errorf("failed to parse SKU listing for %s in %s: %w", service, regionName, err)
	}

	seen := make(map[string]struct{})
	var tiers []string
	for _, sku := range listing.Value {
		if !strings.EqualFold(sku.ResourceType, res.resourceType) {
			continue
		}
		if !skuInRegion(sku.Locations, regionName) {
			continue
		}
		tier := normalizeTier(sku.Tier)
		if tier == "" {
			tier = normalizeTier(sku.Name)
		}
		if tier == "" {
			continue
		}
		if _, dup := seen[tier]; dup {
			continue
		}
		seen[tier] = struct{}{}
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)

	c.logger.Debug().
		Str("region", regionName).
		Str("service", service).
		Int("tiers", len(tiers)).
		Msg("Listed supported tiers")
	return tiers, nil
}

// skuInRegion reports whether the SKU's location list covers the
// region. An empty list means the SKU is offered everywhere.
func skuInRegion(locations []string, regionName string) bool {
	if len(locations) == 0 {
		return true
	}
	for _, loc := range locations {
		if strings.EqualFold(loc, regionName) {
			return true
		}
	}
	return false
}

// normalizeTier folds platform tier names into the lowercase
// underscore form the profile set uses, e.g. "General Purpose" into
// "general_purpose".
func normalizeTier(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(trimmed), " ", "_")
}
