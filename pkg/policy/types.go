package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do
	// not block the run.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that deny the run.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that deny the run and need
	// immediate operator attention.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation at this severity denies the run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a guardrail rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not
	// declare their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource names the part of the request the violation is about,
	// such as a service or region. Empty for run-level violations.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Result represents the outcome of evaluating every enabled policy
// against one deployment request.
type Result struct {
	// Allowed indicates if the run may proceed. False when any
	// violation carries a blocking severity.
	Allowed bool `json:"allowed"`

	// Violations lists all violations, blocking or not, in policy
	// name order.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated. An
	// evaluation failure never denies the run.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were
	// evaluated, sorted.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that deny the run.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies evaluate. It flattens the deployment
// request and the resolved plan into the shape the builtin Rego rules
// consume.
type Input struct {
	// Environment is the target environment name. The builtin rules
	// treat names starting with "prod" as production.
	Environment string `json:"environment"`

	// ResourceGroup is the target resource group.
	ResourceGroup string `json:"resource_group"`

	// Frozen is true when the environment is change-frozen.
	Frozen bool `json:"frozen"`

	// Request carries the budgets and switches of the request.
	Request *RequestInput `json:"request,omitempty"`

	// Plan carries the resolved region and tiers.
	Plan *PlanInput `json:"plan,omitempty"`

	// Metadata carries the request's operator metadata.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// RequestInput is the request slice of the policy input.
type RequestInput struct {
	// DesiredRegion is the pinned region, empty when unpinned.
	DesiredRegion string `json:"desired_region,omitempty"`

	// DesiredTiers maps service names to requested tiers.
	DesiredTiers map[string]string `json:"desired_tiers,omitempty"`

	// MaxAttempts is the attempt budget.
	MaxAttempts int `json:"max_attempts"`

	// MaxWallClockSeconds is the wall-clock budget in seconds.
	MaxWallClockSeconds int `json:"max_wall_clock_seconds"`

	// SkipHealthChecks is true when post-apply probes are disabled.
	SkipHealthChecks bool `json:"skip_health_checks"`

	// SkipLint is true when pre-validation lint is disabled.
	SkipLint bool `json:"skip_lint"`
}

// PlanInput is the resolved-plan slice of the policy input.
type PlanInput struct {
	// Region is the region the plan deploys to.
	Region string `json:"region"`

	// EffectiveTiers maps service names to the tiers that will deploy.
	EffectiveTiers map[string]string `json:"effective_tiers,omitempty"`

	// Downgrades lists forced tier substitutions.
	Downgrades []DowngradeInput `json:"downgrades,omitempty"`
}

// DowngradeInput is one forced tier substitution in the policy input.
type DowngradeInput struct {
	// Service is the service whose tier was substituted.
	Service string `json:"service"`

	// Requested is the tier the manifest asked for.
	Requested string `json:"requested"`

	// Effective is the tier the plan will deploy.
	Effective string `json:"effective"`

	// Reason explains the substitution.
	Reason string `json:"reason,omitempty"`
}

// Bundle represents a collection of related policies distributed as
// one JSON document.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}
