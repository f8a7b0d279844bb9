package policy

import (
	"time"
)

// GetBuiltinPolicies returns the guardrails every engine ships with.
// All of them treat environments whose name starts with "prod" as
// production.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		productionRegionsPolicy(),
		tierFloorsPolicy(),
		changeFreezePolicy(),
		attemptBudgetPolicy(),
	}
}

// productionRegionsPolicy restricts production runs to fully supported
// regions.
func productionRegionsPolicy() Policy {
	return Policy{
		Name:        "production-regions",
		Description: "Restricts production deployments to fully supported regions",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"regions", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openlander.policies.regions

import rego.v1

# Regions approved for production workloads. Matches the fully
# supported regions of the capability profile.
approved_production_regions := ["eastus2", "westus2", "westeurope"]

deny contains violation if {
	input.plan
	startswith(input.environment, "prod")
	not input.plan.region in approved_production_regions

	violation := {
		"message": sprintf("Region %s is not approved for production environment %s", [input.plan.region, input.environment]),
		"severity": "error",
		"resource": input.plan.region,
	}
}`,
	}
}

// tierFloorsPolicy keeps production services off tiers too weak to
// carry production traffic, and flags forced downgrades for review.
func tierFloorsPolicy() Policy {
	return Policy{
		Name:        "tier-floors",
		Description: "Blocks production services from deploying below their minimum tier",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"tiers", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openlander.policies.tiers

import rego.v1

# Tiers below the production floor, per service.
banned_production_tiers := {
	"functions": ["consumption"],
	"app_service": ["free"],
	"postgres": ["burstable"],
}

deny contains violation if {
	input.plan
	startswith(input.environment, "prod")
	some service, tier in input.plan.effective_tiers
	banned := banned_production_tiers[service]
	tier in banned

	violation := {
		"message": sprintf("Service %s cannot deploy on tier %s in production", [service, tier]),
		"severity": "error",
		"resource": service,
	}
}

# Forced downgrades are allowed but should be reviewed before the run.
deny contains violation if {
	input.plan
	startswith(input.environment, "prod")
	count(input.plan.downgrades) > 0

	violation := {
		"message": sprintf("Plan downgrades %d service(s) below the requested tier", [count(input.plan.downgrades)]),
		"severity": "warning",
	}
}`,
	}
}

// changeFreezePolicy denies runs into change-frozen environments. The
// engine remediates failures autonomously, so a freeze can only hold
// if no run starts at all.
func changeFreezePolicy() Policy {
	return Policy{
		Name:        "change-freeze",
		Description: "Denies deployments and auto-remediation in change-frozen environments",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"freeze", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openlander.policies.freeze

import rego.v1

deny contains violation if {
	input.frozen

	violation := {
		"message": sprintf("Environment %s is change-frozen; deployments and auto-remediation are blocked until the freeze is lifted", [input.environment]),
		"severity": "critical",
		"resource": input.environment,
	}
}`,
	}
}

// attemptBudgetPolicy keeps retry budgets within sane bounds for
// production runs.
func attemptBudgetPolicy() Policy {
	return Policy{
		Name:        "attempt-budget",
		Description: "Caps the attempt budget and forbids skipping health checks in production",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"budget", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openlander.policies.budget

import rego.v1

# Attempt ceiling for production runs. The global cap is higher; a
# production run burning more attempts than this needs a human.
max_production_attempts := 10

deny contains violation if {
	input.request
	startswith(input.environment, "prod")
	input.request.max_attempts > max_production_attempts

	violation := {
		"message": sprintf("Budget of %d attempts exceeds the production ceiling of %d", [input.request.max_attempts, max_production_attempts]),
		"severity": "error",
	}
}

deny contains violation if {
	input.request
	startswith(input.environment, "prod")
	input.request.skip_health_checks

	violation := {
		"message": "Health checks cannot be skipped in production",
		"severity": "error",
	}
}`,
	}
}
