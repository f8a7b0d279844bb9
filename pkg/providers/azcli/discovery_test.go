package azcli

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

const postgresSKUs = `{
  "value": [
    {"resourceType": "flexibleServers", "name": "Standard_B1ms", "tier": "Burstable", "locations": ["eastus2", "westus2"]},
    {"resourceType": "flexibleServers", "name": "Standard_D2ds_v4", "tier": "General Purpose", "locations": ["eastus2"]},
    {"resourceType": "flexibleServers", "name": "Standard_D4ds_v4", "tier": "General Purpose", "locations": ["eastus2"]},
    {"resourceType": "flexibleServers", "name": "Standard_E2ds_v4", "tier": "Memory Optimized", "locations": ["westus2"]},
    {"resourceType": "servers", "name": "Legacy", "tier": "Basic", "locations": ["eastus2"]}
  ]
}`

func TestListSupportedTiers(t *testing.T) {
	runner := &fakeRunner{stdout: postgresSKUs}
	client := newTestClient(runner)

	tiers, err := client.ListSupportedTiers(context.Background(), "eastus2", "postgres")
	if err != nil {
		t.Fatalf("ListSupportedTiers() error = %v", err)
	}

	// The memory-optimized SKU is westus2-only and the legacy resource
	// type is filtered out; duplicates collapse.
	want := []string{"burstable", "general_purpose"}
	if !reflect.DeepEqual(tiers, want) {
		t.Errorf("tiers = %v, want %v", tiers, want)
	}

	call := strings.Join(runner.lastCall(), " ")
	if !strings.Contains(call, "rest --method get") {
		t.Errorf("CLI call is not a rest get: %s", call)
	}
	if !strings.Contains(call, "Microsoft.DBforPostgreSQL/skus") {
		t.Errorf("CLI call misses the provider namespace: %s", call)
	}
	if !strings.Contains(call, "location eq 'eastus2'") {
		t.Errorf("CLI call misses the region filter: %s", call)
	}
}

func TestListSupportedTiersEmptyLocations(t *testing.T) {
	// No locations on a SKU means it is offered everywhere.
	runner := &fakeRunner{stdout: `{"value": [{"resourceType": "storageAccounts", "name": "Standard_LRS", "tier": "Standard_LRS", "locations": []}]}`}
	client := newTestClient(runner)

	tiers, err := client.ListSupportedTiers(context.Background(), "brazilsouth", "storage")
	if err != nil {
		t.Fatalf("ListSupportedTiers() error = %v", err)
	}
	if !reflect.DeepEqual(tiers, []string{"standard_lrs"}) {
		t.Errorf("tiers = %v, want [standard_lrs]", tiers)
	}
}

func TestListSupportedTiersUnavailableService(t *testing.T) {
	runner := &fakeRunner{stdout: `{"value": []}`}
	client := newTestClient(runner)

	tiers, err := client.ListSupportedTiers(context.Background(), "japaneast", "servicebus")
	if err != nil {
		t.Fatalf("ListSupportedTiers() error = %v, want none for an empty listing", err)
	}
	if len(tiers) != 0 {
		t.Errorf("tiers = %v, want none", tiers)
	}
}

func TestListSupportedTiersUnknownService(t *testing.T) {
	client := newTestClient(&fakeRunner{})

	if _, err := client.ListSupportedTiers(context.Background(), "eastus2", "mainframe"); err == nil {
		t.Fatal("ListSupportedTiers() succeeded for an unmapped service")
	}
}

func TestListSupportedTiersCLIFailure(t *testing.T) {
	runner := &fakeRunner{stderr: "ERROR: rate limited", err: exitError(t)}
	client := newTestClient(runner)

	if _, err := client.ListSupportedTiers(context.Background(), "eastus2", "functions"); err == nil {
		t.Fatal("ListSupportedTiers() succeeded on a failing CLI call")
	}
}

func TestNormalizeTier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"General Purpose", "general_purpose"},
		{"Burstable", "burstable"},
		{"  Premium  ", "premium"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeTier(tt.in); got != tt.want {
			t.Errorf("normalizeTier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
