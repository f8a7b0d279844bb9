package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/openlander/openlander/pkg/audit"
	"github.com/openlander/openlander/pkg/classify"
	"github.com/openlander/openlander/pkg/health"
	"github.com/openlander/openlander/pkg/region"
	"github.com/openlander/openlander/pkg/remedy"
)

// Default budgets applied by Normalize when a request leaves them zero.
const (
	// DefaultMaxAttempts bounds the apply attempts of one run.
	DefaultMaxAttempts = 5

	// DefaultMaxWallClock bounds the total duration of one run.
	DefaultMaxWallClock = 30 * time.Minute
)

// primaryService is the service whose effective tier stands in for the
// whole run wherever a single tier value is recorded or displayed.
const primaryService = "functions"

// TemplateRef locates the deployment content for a run.
type TemplateRef struct {
	// WorkspaceDir is the directory remediation edits are confined to.
	WorkspaceDir string `json:"workspace_dir"`

	// TemplatePath is the declarative template, relative to WorkspaceDir.
	TemplatePath string `json:"template_path"`

	// ParametersPath is the environment parameter file, relative to
	// WorkspaceDir. Empty when the template takes no parameter file.
	ParametersPath string `json:"parameters_path,omitempty"`
}

// Target returns the content locator remediation rules operate on.
func (t TemplateRef) Target() remedy.Target {
	return remedy.Target{
		TemplatePath:   t.TemplatePath,
		ParametersPath: t.ParametersPath,
	}
}

// DeploymentRequest is the input to a deployment run. The engine treats
// it as immutable once the run starts; re-resolution after a capacity
// failure changes the run's target, never the request.
type DeploymentRequest struct {
	// Environment is the environment name the run deploys.
	Environment string `json:"environment"`

	// ResourceGroup is the resource group resources are created in.
	ResourceGroup string `json:"resource_group"`

	// DesiredRegion pins region resolution to one region when non-empty.
	DesiredRegion string `json:"desired_region,omitempty"`

	// DesiredTiers maps each service to the tier the caller asked for.
	DesiredTiers map[string]string `json:"desired_tiers"`

	// Template locates the deployment content.
	Template TemplateRef `json:"template"`

	// Parameters are inline parameter values passed to the apply call in
	// addition to the parameter file.
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// MaxAttempts bounds the apply attempts of the run. Zero means
	// DefaultMaxAttempts.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// MaxWallClock bounds the total run duration. Zero means
	// DefaultMaxWallClock.
	MaxWallClock time.Duration `json:"max_wall_clock,omitempty"`

	// SkipHealthChecks skips post-apply health probes. A run that skips
	// them succeeds as soon as an apply attempt succeeds.
	SkipHealthChecks bool `json:"skip_health_checks,omitempty"`

	// SkipLint skips pre-flight template validation.
	SkipLint bool `json:"skip_lint,omitempty"`

	// ProbeParams resolves placeholders in probe targets, such as the
	// deployed application hostname.
	ProbeParams map[string]string `json:"probe_params,omitempty"`

	// Metadata carries caller-supplied key-value pairs into run records
	// and audit payloads.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Normalize fills zero-valued budgets with their defaults.
func (r *DeploymentRequest) Normalize() {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	if r.MaxWallClock <= 0 {
		r.MaxWallClock = DefaultMaxWallClock
	}
}

// Validate checks that the request names everything a run needs.
func (r *DeploymentRequest) Validate() error {
	if r.Environment == "" {
		return fmt.Errorf("deployment request has no environment")
	}
	if r.ResourceGroup == "" {
		return fmt.Errorf("deployment request has no resource group")
	}
	if len(r.DesiredTiers) == 0 {
		return fmt.Errorf("deployment request has no desired tiers")
	}
	if r.Template.TemplatePath == "" {
		return fmt.Errorf("deployment request has no template path")
	}
	if r.MaxAttempts < 0 {
		return fmt.Errorf("deployment request has negative max attempts")
	}
	return nil
}

// Services returns the requested service names in sorted order.
func (r *DeploymentRequest) Services() []string {
	services := make([]string, 0, len(r.DesiredTiers))
	for svc := range r.DesiredTiers {
		services = append(services, svc)
	}
	sort.Strings(services)
	return services
}

// Attempt records one apply try within a run.
type Attempt struct {
	// Seq is the 1-based attempt number. Sequences are monotonic and
	// gapless within a run.
	Seq int `json:"seq"`

	// Region is the region this attempt targeted.
	Region string `json:"region"`

	// Tier is the run's effective tier at the time of the attempt.
	Tier string `json:"tier"`

	// StartedAt is when the apply call began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the attempt reached its outcome.
	CompletedAt time.Time `json:"completed_at"`

	// Success indicates the apply call reported success.
	Success bool `json:"success"`

	// Diagnostic is the raw failure output. Empty on success.
	Diagnostic string `json:"diagnostic,omitempty"`

	// Classification is the failure classification. Nil on success.
	Classification *classify.Record `json:"classification,omitempty"`

	// Fix is the remediation outcome for this attempt's failure, when a
	// rule matched. Gated and failed fixes are recorded too.
	Fix *remedy.FixRecord `json:"fix,omitempty"`

	// Backoff is the delay scheduled after this attempt. Zero when the
	// run did not back off.
	Backoff time.Duration `json:"backoff,omitempty"`
}

// Duration returns the attempt's elapsed time.
func (a *Attempt) Duration() time.Duration {
	if a.CompletedAt.IsZero() {
		return 0
	}
	return a.CompletedAt.Sub(a.StartedAt)
}

// RunResult is the outcome of a deployment run.
type RunResult struct {
	// RunID is the unique identifier of the run.
	RunID string `json:"run_id"`

	// Environment is the environment the run deployed.
	Environment string `json:"environment"`

	// State is the terminal state, StateSucceeded or StateFailed.
	State RunState `json:"state"`

	// FailureReason explains a failed run. Empty on success.
	FailureReason FailureReason `json:"failure_reason,omitempty"`

	// Plan is the resolved plan of the final attempt. Nil when
	// resolution itself failed.
	Plan *region.ResolvedPlan `json:"plan,omitempty"`

	// Attempts lists every apply attempt in sequence order.
	Attempts []*Attempt `json:"attempts,omitempty"`

	// Health is the post-apply probe outcome. Nil when no apply
	// succeeded or health checks were skipped.
	Health *health.Result `json:"health,omitempty"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached its terminal state.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Err is the terminal error of a failed run. Nil on success.
	Err *EngineError `json:"error,omitempty"`

	// Audit is the run's full decision chain, in append order.
	Audit []*audit.Entry `json:"audit,omitempty"`
}

// Succeeded reports whether the run deployed and passed its checks.
func (r *RunResult) Succeeded() bool {
	return r.State == StateSucceeded
}

// LastAttempt returns the most recent attempt, or nil before the first.
func (r *RunResult) LastAttempt() *Attempt {
	if len(r.Attempts) == 0 {
		return nil
	}
	return r.Attempts[len(r.Attempts)-1]
}

// PrimaryTier returns the single tier recorded for a plan: the compute
// tier when the plan includes one, otherwise the tier of the first
// service in name order.
func PrimaryTier(tiers map[string]string) string {
	if tier, ok := tiers[primaryService]; ok {
		return tier
	}
	services := make([]string, 0, len(tiers))
	for svc := range tiers {
		services = append(services, svc)
	}
	if len(services) == 0 {
		return ""
	}
	sort.Strings(services)
	return tiers[services[0]]
}
