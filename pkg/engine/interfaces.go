package engine

import (
	"context"
	"time"

	"github.com/openlander/openlander/pkg/classify"
	"github.com/openlander/openlander/pkg/health"
	"github.com/openlander/openlander/pkg/region"
	"github.com/openlander/openlander/pkg/remedy"
	"github.com/openlander/openlander/pkg/stores"
)

// ApplyTarget describes one apply or validation call against the
// deployment surface.
type ApplyTarget struct {
	// ResourceGroup is the resource group the deployment lands in.
	ResourceGroup string `json:"resource_group"`

	// Region is the region the deployment targets.
	Region string `json:"region"`

	// WorkspaceDir is the directory the content paths are relative to.
	WorkspaceDir string `json:"workspace_dir"`

	// TemplatePath is the declarative template.
	TemplatePath string `json:"template_path"`

	// ParametersPath is the parameter file, empty when none.
	ParametersPath string `json:"parameters_path,omitempty"`

	// Tiers maps each service to the tier this call deploys.
	Tiers map[string]string `json:"tiers,omitempty"`

	// Parameters are inline parameter values layered over the file.
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// TemplateApplier submits deployment content to the platform.
// This is the external apply collaborator of the run loop.
type TemplateApplier interface {
	// Apply performs one deployment. A false ok carries the raw
	// diagnostic text for classification; err reports that the call
	// itself could not run.
	Apply(ctx context.Context, target ApplyTarget) (ok bool, diagnostic string, err error)
}

// TemplateValidator checks deployment content without deploying it.
// Pre-flight validation and post-fix re-validation both go through it.
type TemplateValidator interface {
	// Validate checks the target content. A false ok carries the raw
	// diagnostic; err reports that validation itself could not run.
	Validate(ctx context.Context, target ApplyTarget) (ok bool, diagnostic string, err error)
}

// ParameterStore resolves environment-scoped parameter values. The CLI
// reads it once while building a DeploymentRequest; the run loop never
// consults it.
type ParameterStore interface {
	// GetParameter returns the value for a key in an environment. The
	// second result is false for unknown keys.
	GetParameter(ctx context.Context, environment, key string) (string, bool, error)
}

// FailureClassifier turns raw diagnostic output into a classification.
// classify.Classifier is the production implementation.
type FailureClassifier interface {
	// Classify returns exactly one record for any input text.
	Classify(raw string) *classify.Record
}

// Remediator applies at most one risk-gated fix per failed attempt.
// remedy.Remediator is the production implementation.
type Remediator interface {
	// HasRule reports whether any rule matches the failure. The machine
	// consults it before entering the remediating state, so a failure
	// with no applicable rule fails straight out of classification.
	HasRule(req *remedy.Request) bool

	// Remediate applies the first matching rule and reports the fix.
	Remediate(ctx context.Context, req *remedy.Request) (*remedy.FixRecord, error)
}

// RegionResolver picks the target region and effective tiers.
// region.Resolver is the production implementation.
type RegionResolver interface {
	// Resolve returns the plan for a request, or NoViableRegionError.
	Resolve(req region.ResolveRequest) (*region.ResolvedPlan, error)
}

// HealthChecker runs post-apply liveness probes.
// health.Checker is the production implementation.
type HealthChecker interface {
	// Check runs every probe to completion and reports the outcome.
	Check(ctx context.Context, probes []health.Probe) *health.Result
}

// PolicyGate evaluates guardrail policies before the first attempt.
type PolicyGate interface {
	// Check returns nil when the run may proceed. A denial carries the
	// violated rules in the error.
	Check(ctx context.Context, req *DeploymentRequest, plan *region.ResolvedPlan) error
}

// RunStore persists runs, attempts, fixes, and audit mirror rows.
// *stores.SQLiteStore satisfies it. The machine works against this
// subset so tests can substitute an in-memory fake.
type RunStore interface {
	// CreateRun inserts a new run row.
	CreateRun(ctx context.Context, run *stores.Run) error

	// UpdateRunState moves a run to a new state.
	UpdateRunState(ctx context.Context, id string, state string, failureReason *string, errMsg *string) error

	// UpdateRunTarget records a re-resolved region and tier.
	UpdateRunTarget(ctx context.Context, id string, region, tier string) error

	// CreateAttempt inserts a new attempt row.
	CreateAttempt(ctx context.Context, attempt *stores.Attempt) error

	// UpdateAttemptStatus records an attempt's outcome.
	UpdateAttemptStatus(ctx context.Context, id string, status stores.AttemptStatus, errorKind, ruleID, diagnostic *string) error

	// SetAttemptBackoff records the delay scheduled after an attempt.
	SetAttemptBackoff(ctx context.Context, id string, backoff time.Duration) error

	// CreateFix inserts an applied or gated remediation row.
	CreateFix(ctx context.Context, fix *stores.Fix) error

	// AppendAuditEntry mirrors one audit chain link for queries. The
	// JSONL sink remains the artifact of record.
	AppendAuditEntry(ctx context.Context, entry *stores.AuditEntry) error
}
