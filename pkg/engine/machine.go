package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openlander/openlander/pkg/audit"
	"github.com/openlander/openlander/pkg/classify"
	"github.com/openlander/openlander/pkg/health"
	"github.com/openlander/openlander/pkg/region"
	"github.com/openlander/openlander/pkg/remedy"
	"github.com/openlander/openlander/pkg/stores"
	"github.com/openlander/openlander/pkg/telemetry"
)

// Default collaborator call timeouts.
const (
	// DefaultApplyTimeout bounds one apply call.
	DefaultApplyTimeout = 15 * time.Minute

	// DefaultValidateTimeout bounds one template validation call.
	DefaultValidateTimeout = 2 * time.Minute
)

// Audit actions recorded by the machine. stores.ListAuditEntries and
// the CLI filter by these.
const (
	// AuditRunAccepted records the request as the run received it.
	AuditRunAccepted = "run.accepted"

	// AuditStateTransition records the intent to enter a state. It is
	// appended before the state's action runs, so an interrupted
	// process still shows what was attempted.
	AuditStateTransition = "state.transition"

	// AuditRegionResolved records the chosen region and tiers.
	AuditRegionResolved = "region.resolved"

	// AuditAttemptCompleted records one apply attempt's outcome.
	AuditAttemptCompleted = "attempt.completed"

	// AuditFixRecorded records an applied, gated, or failed fix.
	AuditFixRecorded = "fix.recorded"

	// AuditHealthEvaluated records the post-apply probe outcome.
	AuditHealthEvaluated = "health.evaluated"

	// AuditRunCompleted records the terminal outcome.
	AuditRunCompleted = "run.completed"
)

// MachineConfig wires the collaborators of the deployment state
// machine. Collaborators are injected here rather than looked up
// globally, so independent runs can execute concurrently against
// different surfaces.
type MachineConfig struct {
	// Resolver picks the target region and effective tiers.
	Resolver RegionResolver

	// Regions is the capability surface, loaded once at process start
	// and treated as immutable. Probe construction reads it.
	Regions *region.Set

	// Classifier turns raw diagnostics into error kinds.
	Classifier FailureClassifier

	// Remediator applies risk-gated fixes to deployment content.
	Remediator Remediator

	// Validator checks content before the first attempt.
	Validator TemplateValidator

	// Applier submits content to the deployment surface.
	Applier TemplateApplier

	// Health runs post-apply probes.
	Health HealthChecker

	// Policy gates runs after resolution, before any attempt. Optional.
	Policy PolicyGate

	// Store persists runs, attempts, fixes, and the audit mirror.
	// Optional; the JSONL audit chain is the artifact of record and
	// store failures never stop a run.
	Store RunStore

	// AuditDir is where per-run audit chains are written, one JSONL
	// file per run. Empty keeps chains in memory only. Ignored when
	// AuditSink is set.
	AuditDir string

	// AuditSink overrides the audit sink for a run. Optional.
	AuditSink func(runID string) (audit.Sink, error)

	// Backoff computes the delay between environmental retries. Nil
	// uses the default policy.
	Backoff *BackoffPolicy

	// ApplyTimeout bounds one apply call. Zero means
	// DefaultApplyTimeout.
	ApplyTimeout time.Duration

	// ValidateTimeout bounds one validation call. Zero means
	// DefaultValidateTimeout.
	ValidateTimeout time.Duration

	// Logger is the base logger runs derive theirs from.
	Logger zerolog.Logger
}

// Validate checks that every required collaborator is wired.
func (c *MachineConfig) Validate() error {
	if c.Resolver == nil {
		return fmt.Errorf("machine config has no region resolver")
	}
	if c.Regions == nil {
		return fmt.Errorf("machine config has no capability set")
	}
	if c.Classifier == nil {
		return fmt.Errorf("machine config has no failure classifier")
	}
	if c.Remediator == nil {
		return fmt.Errorf("machine config has no remediator")
	}
	if c.Validator == nil {
		return fmt.Errorf("machine config has no template validator")
	}
	if c.Applier == nil {
		return fmt.Errorf("machine config has no template applier")
	}
	if c.Health == nil {
		return fmt.Errorf("machine config has no health checker")
	}
	return nil
}

// Machine drives deployment runs through validation, apply, failure
// classification, bounded remediation, backoff, and health checking.
// A Machine holds only immutable collaborators; per-run state lives on
// the run, so one Machine may execute independent runs concurrently.
type Machine struct {
	cfg   MachineConfig
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewMachine creates a machine from wired collaborators.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backoff == nil {
		cfg.Backoff = NewBackoffPolicy(0, 0)
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = DefaultApplyTimeout
	}
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = DefaultValidateTimeout
	}
	return &Machine{
		cfg:   cfg,
		sleep: sleepContext,
		now:   time.Now,
	}, nil
}

// SetClock fixes the time source, for tests.
func (m *Machine) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// SetSleep replaces the backoff sleep, for tests.
func (m *Machine) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	if sleep != nil {
		m.sleep = sleep
	}
}

// Execute drives one deployment run to a terminal state. The returned
// result carries the full attempt history and audit chain even on
// failure; the error is non-nil exactly when the run failed.
func (m *Machine) Execute(ctx context.Context, req *DeploymentRequest) (*RunResult, error) {
	if req == nil {
		return nil, NewFatalError("deployment request is nil", nil).WithCode(ErrCodeValidation)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewFatalError("invalid deployment request", err).
			WithCode(ErrCodeValidation).
			WithEnvironment(req.Environment)
	}

	chainID := uuid.New().String()
	chain, closer, err := m.newAuditLog(chainID)
	if err != nil {
		return nil, NewFatalError("failed to open audit log", err).
			WithCode(ErrCodeInternal).
			WithEnvironment(req.Environment)
	}
	if closer != nil {
		defer closer.Close()
	}

	r := &run{
		m:          m,
		req:        req,
		id:         chainID,
		chain:      chain,
		state:      StatePending,
		startedAt:  m.now(),
		attemptIDs: make(map[int]string),
	}
	r.log = m.cfg.Logger.With().
		Str("run_id", r.id).
		Str("environment", req.Environment).
		Logger()

	ctx = telemetry.WithRunContext(ctx, r.id, req.Environment)
	result, runErr := r.execute(ctx)
	telemetry.EndRunContext(ctx, r.id, string(result.State), runErr)
	return result, runErr
}

// newAuditLog builds the audit chain for one run.
func (m *Machine) newAuditLog(runID string) (*audit.Log, io.Closer, error) {
	if m.cfg.AuditSink != nil {
		sink, err := m.cfg.AuditSink(runID)
		if err != nil {
			return nil, nil, err
		}
		closer, _ := sink.(io.Closer)
		return audit.NewLogWithSink(sink), closer, nil
	}
	if m.cfg.AuditDir == "" {
		return audit.NewLog(), nil, nil
	}
	if err := os.MkdirAll(m.cfg.AuditDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	sink, err := audit.NewFileSink(filepath.Join(m.cfg.AuditDir, runID+".jsonl"))
	if err != nil {
		return nil, nil, err
	}
	return audit.NewLogWithSink(sink), sink, nil
}

// run carries the mutable state of one executing deployment run.
type run struct {
	m   *Machine
	req *DeploymentRequest
	id  string
	log zerolog.Logger

	chain      *audit.Log
	state      RunState
	plan       *region.ResolvedPlan
	excluded   []string
	attempts   []*Attempt
	attemptIDs map[int]string
	health     *health.Result
	startedAt  time.Time
}

// Audit payload shapes. Each action's payload is stable so a run's
// decision history can be parsed back from the chain alone.
type auditRunAcceptedPayload struct {
	RunID         string            `json:"run_id"`
	Environment   string            `json:"environment"`
	ResourceGroup string            `json:"resource_group"`
	DesiredRegion string            `json:"desired_region,omitempty"`
	DesiredTiers  map[string]string `json:"desired_tiers"`
	TemplatePath  string            `json:"template_path"`
	MaxAttempts   int               `json:"max_attempts"`
}

type auditTransitionPayload struct {
	From    RunState `json:"from"`
	To      RunState `json:"to"`
	Attempt int      `json:"attempt,omitempty"`
	Region  string   `json:"region,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}

type auditRegionResolvedPayload struct {
	Region         string             `json:"region"`
	EffectiveTiers map[string]string  `json:"effective_tiers"`
	Downgrades     []region.Downgrade `json:"downgrades,omitempty"`
	Excluded       []string           `json:"excluded,omitempty"`
	ReResolution   bool               `json:"re_resolution,omitempty"`
}

type auditAttemptPayload struct {
	Seq       int    `json:"seq"`
	Region    string `json:"region"`
	Tier      string `json:"tier"`
	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind,omitempty"`
	RuleID    string `json:"rule_id,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

type auditFixPayload struct {
	AttemptSeq   int    `json:"attempt_seq"`
	RuleID       string `json:"rule_id"`
	Risk         string `json:"risk"`
	Verification string `json:"verification"`
	Path         string `json:"path,omitempty"`
	Line         int    `json:"line,omitempty"`
}

type auditHealthPayload struct {
	Pass          bool     `json:"pass"`
	Probes        int      `json:"probes"`
	FailingProbes []string `json:"failing_probes,omitempty"`
}

type auditRunCompletedPayload struct {
	State    RunState      `json:"state"`
	Reason   FailureReason `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// execute runs the state machine to a terminal state. Every return
// path goes through finish or abort, so the result always carries the
// chain.
func (r *run) execute(ctx context.Context) (*RunResult, error) {
	req := r.req

	if err := r.audit(ctx, AuditRunAccepted, auditRunAcceptedPayload{
		RunID:         r.id,
		Environment:   req.Environment,
		ResourceGroup: req.ResourceGroup,
		DesiredRegion: req.DesiredRegion,
		DesiredTiers:  req.DesiredTiers,
		TemplatePath:  req.Template.TemplatePath,
		MaxAttempts:   req.MaxAttempts,
	}); err != nil {
		return r.abort(ctx, err)
	}
	r.persistRunCreated(ctx)

	// Pending -> Validating: resolve the target, gate on policy, then
	// lint the content.
	if err := r.transition(ctx, StateValidating, 0, ""); err != nil {
		return r.abort(ctx, err)
	}

	plan, err := r.m.cfg.Resolver.Resolve(region.ResolveRequest{
		DesiredRegion: req.DesiredRegion,
		DesiredTiers:  req.DesiredTiers,
	})
	if err != nil {
		return r.finish(ctx, ReasonNoViableRegion,
			NewFatalError("no viable region satisfies the request", err).
				WithCode(ErrCodeNoViableRegion))
	}
	if err := r.setTarget(ctx, plan, false); err != nil {
		return r.abort(ctx, err)
	}

	if r.m.cfg.Policy != nil {
		if err := r.m.cfg.Policy.Check(ctx, req, r.plan); err != nil {
			if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
				_ = tel.Events.PublishPolicyViolation(r.id, "guardrails", err.Error())
			}
			return r.finish(ctx, ReasonPolicyDenied,
				NewFatalError("policy denied the run", err).WithCode(ErrCodePolicyDenied))
		}
	}

	if !req.SkipLint {
		callCtx, cancel := context.WithTimeout(ctx, r.m.cfg.ValidateTimeout)
		ok, diagnostic, verr := r.m.cfg.Validator.Validate(callCtx, r.target())
		cancel()
		if verr != nil || !ok {
			diagnostic = joinDiagnostic(diagnostic, verr)
			rec := r.m.cfg.Classifier.Classify(diagnostic)
			r.recordClassification(ctx, rec)
			return r.finish(ctx, ReasonLogicError,
				NewLogicError(fmt.Sprintf("template validation failed: %s", rec.Summary), verr).
					WithCode(ErrCodeValidation).
					WithDetail("error_kind", string(rec.Kind)))
		}
	}

	// The apply loop. Attempt sequences are 1-based, monotonic, and
	// gapless; no run makes more than MaxAttempts apply transitions.
	for seq := 1; seq <= req.MaxAttempts; seq++ {
		// Cancellation takes effect between attempts only.
		if ctx.Err() != nil {
			return r.finish(ctx, ReasonCancelled,
				NewFatalError("run cancelled", ctx.Err()).WithCode(ErrCodeCancelled))
		}
		if elapsed := r.m.now().Sub(r.startedAt); elapsed >= req.MaxWallClock {
			return r.finish(ctx, ReasonBudgetExhausted,
				NewEnvironmentalError(
					fmt.Sprintf("wall clock budget %s exhausted after %d attempts", req.MaxWallClock, seq-1), nil).
					WithCode(ErrCodeBudgetExhausted))
		}

		if err := r.transition(ctx, StateApplying, seq, ""); err != nil {
			return r.abort(ctx, err)
		}

		tier := PrimaryTier(r.plan.EffectiveTiers)
		attemptCtx := telemetry.WithAttemptContext(ctx, r.id, seq, r.plan.Region, tier)
		attempt := r.applyOnce(attemptCtx, seq)

		if attempt.Success {
			telemetry.EndAttemptContext(attemptCtx, r.id, seq, attempt.Region, attempt.Tier,
				string(stores.AttemptStatusSucceeded), "", nil)
			r.persistAttemptOutcome(ctx, attempt, stores.AttemptStatusSucceeded, nil)
			if err := r.audit(ctx, AuditAttemptCompleted, attemptPayload(attempt)); err != nil {
				return r.abort(ctx, err)
			}
			r.log.Info().Int("attempt", seq).Str("region", attempt.Region).Msg("Apply succeeded")

			if req.SkipHealthChecks {
				return r.finish(ctx, "", nil)
			}
			if err := r.transition(ctx, StateHealthChecking, seq, ""); err != nil {
				return r.abort(ctx, err)
			}
			return r.healthCheck(ctx)
		}

		// Failed attempt: classify the raw diagnostic.
		if err := r.transition(ctx, StateClassifying, seq, ""); err != nil {
			return r.abort(ctx, err)
		}
		rec := r.m.cfg.Classifier.Classify(attempt.Diagnostic)
		attempt.Classification = rec
		r.recordClassification(ctx, rec)
		telemetry.EndAttemptContext(attemptCtx, r.id, seq, attempt.Region, attempt.Tier,
			string(stores.AttemptStatusFailed), string(rec.Kind), fmt.Errorf("%s", rec.Summary))
		r.persistAttemptOutcome(ctx, attempt, stores.AttemptStatusFailed, rec)
		if err := r.audit(ctx, AuditAttemptCompleted, attemptPayload(attempt)); err != nil {
			return r.abort(ctx, err)
		}
		r.log.Warn().
			Int("attempt", seq).
			Str("error_kind", string(rec.Kind)).
			Str("rule", rec.RuleID).
			Msg("Apply attempt failed")

		switch {
		case rec.Kind.Remediable():
			fixReq := &remedy.Request{
				Record: rec,
				Raw:    attempt.Diagnostic,
				Target: r.req.Template.Target(),
			}
			if !r.m.cfg.Remediator.HasRule(fixReq) {
				// No rule to try: the run fails straight out of
				// classification, the remediating state is never
				// entered.
				return r.finish(ctx, ReasonLogicError,
					NewLogicError("no remediation rule applies", &remedy.NoRuleError{Kind: rec.Kind}).
						WithCode(ErrCodeNoApplicableRule).
						WithDetail("error_kind", string(rec.Kind)))
			}
			// Logic errors are not time-sensitive: a verified fix
			// retries immediately and anything else fails the run now,
			// except a re-validation timeout, which is environmental
			// and backs off like any other timeout.
			result, retry, rerr := r.remediate(ctx, attempt, rec, fixReq)
			if result != nil {
				return result, rerr
			}
			if retry && seq < req.MaxAttempts {
				trec := &classify.Record{
					Kind:    classify.KindTransient,
					RuleID:  rec.RuleID,
					Summary: "fix re-validation timed out",
				}
				if result, rerr := r.backOff(ctx, attempt, seq, trec); result != nil {
					return result, rerr
				}
			}

		case rec.Kind == classify.KindUnknown:
			return r.finish(ctx, ReasonUnknownFailure,
				NewFatalError("diagnostic matched no classification rule", nil).
					WithCode(ErrCodeUnknownFailure).
					WithDetail("excerpt", rec.Excerpt))

		default:
			// Environmental failure: re-resolve after capacity loss,
			// then back off unless this was the final attempt.
			if rec.Kind == classify.KindQuotaOrCapacity && req.DesiredRegion == "" {
				if err := r.reresolve(ctx, attempt.Region); err != nil {
					return r.abort(ctx, err)
				}
			}
			if seq < req.MaxAttempts {
				if result, rerr := r.backOff(ctx, attempt, seq, rec); result != nil {
					return result, rerr
				}
			}
		}
	}

	return r.finish(ctx, ReasonBudgetExhausted,
		NewEnvironmentalError(fmt.Sprintf("attempt budget %d exhausted", req.MaxAttempts), nil).
			WithCode(ErrCodeBudgetExhausted))
}

// applyOnce performs one apply call. The call is never interrupted by
// run cancellation so the deployment surface is not left mid-operation;
// cancellation takes effect between attempts. The call still runs
// under its own timeout.
func (r *run) applyOnce(ctx context.Context, seq int) *Attempt {
	attempt := &Attempt{
		Seq:       seq,
		Region:    r.plan.Region,
		Tier:      PrimaryTier(r.plan.EffectiveTiers),
		StartedAt: r.m.now(),
	}
	r.attempts = append(r.attempts, attempt)
	r.persistAttemptStarted(ctx, attempt)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.m.cfg.ApplyTimeout)
	ok, diagnostic, err := r.m.cfg.Applier.Apply(callCtx, r.target())
	cancel()

	attempt.CompletedAt = r.m.now()
	attempt.Success = err == nil && ok
	if !attempt.Success {
		attempt.Diagnostic = joinDiagnostic(diagnostic, err)
	}
	return attempt
}

// remediate applies at most one fix for the classified failure. A nil
// result with retry false means the fix verified and the caller should
// schedule the next attempt immediately; retry true means re-validation
// timed out and the caller should back off before retrying. Any
// non-nil result is terminal.
func (r *run) remediate(ctx context.Context, attempt *Attempt, rec *classify.Record, fixReq *remedy.Request) (result *RunResult, retry bool, rerr error) {
	terminal := func(reason FailureReason, engErr *EngineError) (*RunResult, bool, error) {
		res, err := r.finish(ctx, reason, engErr)
		return res, false, err
	}

	if err := r.transition(ctx, StateRemediating, attempt.Seq, rec.RuleID); err != nil {
		res, aerr := r.abort(ctx, err)
		return res, false, aerr
	}

	fix, err := r.m.cfg.Remediator.Remediate(ctx, fixReq)
	if fix != nil {
		attempt.Fix = fix
		r.persistFix(ctx, attempt.Seq, fix)
		r.publishFix(ctx, fix)
		if aerr := r.audit(ctx, AuditFixRecorded, auditFixPayload{
			AttemptSeq:   attempt.Seq,
			RuleID:       fix.RuleID,
			Risk:         string(fix.Risk),
			Verification: string(fix.Verification),
			Path:         fix.Path,
			Line:         fix.Line,
		}); aerr != nil {
			res, aberr := r.abort(ctx, aerr)
			return res, false, aberr
		}
	}

	switch {
	case err != nil && remedy.IsNoRule(err):
		return terminal(ReasonLogicError,
			NewLogicError("no remediation rule applies", err).
				WithCode(ErrCodeNoApplicableRule).
				WithDetail("error_kind", string(rec.Kind)))
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		// Re-validation timed out: the edit's verified state is
		// unknown, not refuted. Timeouts are environmental, so the run
		// backs off and retries instead of failing.
		r.log.Warn().Err(err).Msg("Fix re-validation timed out, backing off before retry")
		return nil, true, nil
	case err != nil && fix != nil:
		// The edit is on disk but could not be re-validated.
		return terminal(ReasonLogicError,
			NewLogicError("fix re-validation could not run", err).
				WithCode(ErrCodeVerificationFailed).
				WithDetail("rule_id", fix.RuleID))
	case err != nil:
		return terminal(ReasonLogicError,
			NewLogicError("remediation failed", err).WithCode(ErrCodeInternal))
	case fix == nil:
		return terminal(ReasonLogicError,
			NewLogicError("remediator returned no fix record", nil).WithCode(ErrCodeInternal))
	}

	switch fix.Verification {
	case remedy.VerificationSkipped:
		return terminal(ReasonRemediationGated,
			NewLogicError(
				fmt.Sprintf("fix %s is %s risk and needs operator review", fix.RuleID, fix.Risk), nil).
				WithCode(ErrCodeRemediationRisk).
				WithDetail("rule_id", fix.RuleID).
				WithDetail("risk", string(fix.Risk)))
	case remedy.VerificationAlreadyFixed:
		return terminal(ReasonLogicError,
			NewLogicError(
				fmt.Sprintf("fix %s is already in place and the failure persists", fix.RuleID), nil).
				WithCode(ErrCodeFixIneffective).
				WithDetail("rule_id", fix.RuleID))
	case remedy.VerificationFail:
		return terminal(ReasonLogicError,
			NewLogicError(
				fmt.Sprintf("fix %s failed re-validation, edit left in place", fix.RuleID), nil).
				WithCode(ErrCodeVerificationFailed).
				WithDetail("rule_id", fix.RuleID))
	}

	r.log.Info().Str("rule", fix.RuleID).Msg("Fix verified, retrying apply")
	return nil, false, nil
}

// backOff sleeps before the next attempt. A nil result means the sleep
// completed; a non-nil result is terminal cancellation.
func (r *run) backOff(ctx context.Context, attempt *Attempt, seq int, rec *classify.Record) (*RunResult, error) {
	delay := r.m.cfg.Backoff.Delay(seq)
	if err := r.transition(ctx, StateBackingOff, seq,
		fmt.Sprintf("sleeping %s after %s failure", delay, rec.Kind)); err != nil {
		return r.abort(ctx, err)
	}

	attempt.Backoff = delay
	r.persistBackoff(ctx, seq, delay)
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordBackoff(string(rec.Kind), delay)
		tel.Metrics.IncRunsBackingOff()
		defer tel.Metrics.DecRunsBackingOff()
	}
	r.log.Info().Dur("delay", delay).Int("attempt", seq).Msg("Backing off before retry")

	if err := r.m.sleep(ctx, delay); err != nil {
		return r.finish(ctx, ReasonCancelled,
			NewFatalError("run cancelled during backoff", err).WithCode(ErrCodeCancelled))
	}
	return nil, nil
}

// healthCheck runs the post-apply probes and finishes the run.
func (r *run) healthCheck(ctx context.Context) (*RunResult, error) {
	profile, ok := r.m.cfg.Regions.Profile(r.plan.Region)
	if !ok {
		return r.finish(ctx, ReasonHealthCheckFailed,
			NewFatalError(fmt.Sprintf("no capability profile for region %s", r.plan.Region), nil).
				WithCode(ErrCodeHealthCheck))
	}
	probes, err := health.BuildProbes(profile, r.req.Services(), health.Params(r.req.ProbeParams))
	if err != nil {
		return r.finish(ctx, ReasonHealthCheckFailed,
			NewFatalError("failed to build health probes", err).WithCode(ErrCodeHealthCheck))
	}

	result := r.m.cfg.Health.Check(ctx, probes)
	r.health = result
	r.recordProbes(ctx, probes, result)
	if aerr := r.audit(ctx, AuditHealthEvaluated, auditHealthPayload{
		Pass:          result.Pass,
		Probes:        len(result.Probes),
		FailingProbes: result.FailingProbes,
	}); aerr != nil {
		return r.abort(ctx, aerr)
	}

	if !result.Pass {
		return r.finish(ctx, ReasonHealthCheckFailed,
			NewFatalError(
				fmt.Sprintf("%d of %d health probes failed", len(result.FailingProbes), len(result.Probes)), nil).
				WithCode(ErrCodeHealthCheck).
				WithDetail("failing_probes", result.FailingProbes))
	}
	return r.finish(ctx, "", nil)
}

// setTarget adopts a resolved plan as the run's target.
func (r *run) setTarget(ctx context.Context, plan *region.ResolvedPlan, reResolved bool) error {
	r.plan = plan
	tier := PrimaryTier(plan.EffectiveTiers)
	r.persistTarget(ctx, plan.Region, tier)

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordRegionResolution(plan.Region, tier)
		_ = tel.Events.PublishRegionResolved(r.id, plan.Region, tier, len(plan.Downgrades))
	}
	for _, d := range plan.Downgrades {
		r.log.Warn().
			Str("service", d.Service).
			Str("requested", d.Requested).
			Str("effective", d.Effective).
			Msg("Tier downgraded")
	}

	return r.audit(ctx, AuditRegionResolved, auditRegionResolvedPayload{
		Region:         plan.Region,
		EffectiveTiers: plan.EffectiveTiers,
		Downgrades:     plan.Downgrades,
		Excluded:       r.excluded,
		ReResolution:   reResolved,
	})
}

// reresolve retries region resolution after a capacity failure with
// every capacity-failed region excluded. When no alternative region is
// viable the run keeps its current target and relies on backoff.
func (r *run) reresolve(ctx context.Context, failedRegion string) error {
	r.excluded = append(r.excluded, failedRegion)
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordRegionReResolution(failedRegion)
	}

	plan, err := r.m.cfg.Resolver.Resolve(region.ResolveRequest{
		DesiredTiers: r.req.DesiredTiers,
		Exclude:      r.excluded,
	})
	if err != nil {
		r.log.Warn().
			Err(err).
			Str("excluded", strings.Join(r.excluded, ",")).
			Msg("No alternative region, keeping current target")
		return nil
	}

	r.log.Info().
		Str("from", failedRegion).
		Str("to", plan.Region).
		Msg("Re-resolved region after capacity failure")
	return r.setTarget(ctx, plan, true)
}

// finish moves the run to its terminal state and assembles the result.
// engErr is nil exactly when the run succeeded. Terminal bookkeeping
// is best effort: a sink failure here must not leave the caller
// without a result.
func (r *run) finish(ctx context.Context, reason FailureReason, engErr *EngineError) (*RunResult, error) {
	state := StateSucceeded
	if engErr != nil {
		state = StateFailed
		engErr = engErr.WithEnvironment(r.req.Environment)
	}
	completedAt := r.m.now()

	r.auditWarn(ctx, AuditStateTransition, auditTransitionPayload{
		From:    r.state,
		To:      state,
		Attempt: len(r.attempts),
		Region:  r.targetRegion(),
		Detail:  string(reason),
	})
	r.state = state
	r.auditWarn(ctx, AuditRunCompleted, auditRunCompletedPayload{
		State:    state,
		Reason:   reason,
		Error:    errMessage(engErr),
		Attempts: len(r.attempts),
		Duration: completedAt.Sub(r.startedAt),
	})
	r.persistRunFinished(ctx, state, reason, engErr, completedAt)

	result := &RunResult{
		RunID:         r.id,
		Environment:   r.req.Environment,
		State:         state,
		FailureReason: reason,
		Plan:          r.plan,
		Attempts:      r.attempts,
		Health:        r.health,
		StartedAt:     r.startedAt,
		CompletedAt:   completedAt,
		Duration:      completedAt.Sub(r.startedAt),
		Err:           engErr,
		Audit:         r.chain.Entries(),
	}
	if engErr != nil {
		r.log.Error().
			Str("reason", string(reason)).
			Str("code", engErr.Code).
			Int("attempts", len(r.attempts)).
			Msg("Run failed")
		return result, engErr
	}
	r.log.Info().
		Int("attempts", len(r.attempts)).
		Dur("duration", result.Duration).
		Msg("Run succeeded")
	return result, nil
}

// abort ends the run when its own bookkeeping fails, such as an audit
// sink that stops accepting writes. Acting without an intact audit
// trail is not an option.
func (r *run) abort(ctx context.Context, err error) (*RunResult, error) {
	return r.finish(ctx, ReasonUnknownFailure,
		NewFatalError("run bookkeeping failed", err).WithCode(ErrCodeInternal))
}

// transition appends the audit entry for entering next, then moves the
// run there. The entry is written before any action of the new state.
// Moves outside the legal transition table are refused.
func (r *run) transition(ctx context.Context, next RunState, attempt int, detail string) error {
	if !r.state.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s", r.state, next)
	}
	if err := r.audit(ctx, AuditStateTransition, auditTransitionPayload{
		From:    r.state,
		To:      next,
		Attempt: attempt,
		Region:  r.targetRegion(),
		Detail:  detail,
	}); err != nil {
		return fmt.Errorf("failed to record transition to %s: %w", next, err)
	}
	r.state = next
	r.persistState(ctx, next)
	r.log.Debug().Str("state", string(next)).Int("attempt", attempt).Msg("State transition")
	return nil
}

// audit appends one chain entry and mirrors it to the store. A chain
// append failure is returned; a mirror failure is only logged, the
// JSONL chain being the artifact of record.
func (r *run) audit(ctx context.Context, action string, payload interface{}) error {
	entry, err := r.chain.Append(action, payload)
	if err != nil {
		return err
	}
	if r.m.cfg.Store != nil {
		mirror := &stores.AuditEntry{
			RunID:     r.id,
			Sequence:  int64(entry.Sequence),
			Timestamp: entry.Timestamp,
			Actor:     entry.Actor,
			Action:    entry.Action,
			Payload:   string(entry.Payload),
			PrevHash:  entry.PrevHash,
			Hash:      entry.Hash,
		}
		if err := r.m.cfg.Store.AppendAuditEntry(ctx, mirror); err != nil {
			r.log.Warn().Err(err).Str("action", action).Msg("Failed to mirror audit entry")
		}
	}
	return nil
}

// auditWarn is audit for terminal paths, where refusing to finish
// would be worse than a gap at the very end of the chain.
func (r *run) auditWarn(ctx context.Context, action string, payload interface{}) {
	if err := r.audit(ctx, action, payload); err != nil {
		r.log.Warn().Err(err).Str("action", action).Msg("Failed to append audit entry")
	}
}

// target is the apply locator for the run's current plan.
func (r *run) target() ApplyTarget {
	return ApplyTarget{
		ResourceGroup:  r.req.ResourceGroup,
		Region:         r.plan.Region,
		WorkspaceDir:   r.req.Template.WorkspaceDir,
		TemplatePath:   r.req.Template.TemplatePath,
		ParametersPath: r.req.Template.ParametersPath,
		Tiers:          r.plan.EffectiveTiers,
		Parameters:     r.req.Parameters,
	}
}

func (r *run) targetRegion() string {
	if r.plan == nil {
		return ""
	}
	return r.plan.Region
}

func (r *run) recordClassification(ctx context.Context, rec *classify.Record) {
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordClassification(string(rec.Kind), rec.RuleID)
	}
}

func (r *run) recordProbes(ctx context.Context, probes []health.Probe, result *health.Result) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	for i, pr := range result.Probes {
		verdict := "pass"
		if !pr.Passed {
			verdict = "fail"
		}
		if i < len(probes) {
			tel.Metrics.RecordProbe(probes[i].Type, verdict, pr.Service, pr.Elapsed)
		}
		if !pr.Passed {
			_ = tel.Events.PublishProbeFailed(r.id, pr.Name, pr.Detail)
		}
	}
}

func (r *run) publishFix(ctx context.Context, fix *remedy.FixRecord) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	if fix.Verification == remedy.VerificationSkipped {
		tel.Metrics.RecordFixGated(fix.RuleID, string(fix.Risk))
		_ = tel.Events.PublishFixGated(r.id, fix.RuleID, string(fix.Risk))
		return
	}
	tel.Metrics.RecordFixApplied(fix.RuleID, string(fix.Verification))
	_ = tel.Events.PublishFixApplied(r.id, fix.RuleID, fix.Path, string(fix.Verification))
}

// Store persistence. Every helper is a no-op without a store, and
// failures are logged rather than propagated.

func (r *run) persistRunCreated(ctx context.Context) {
	if r.m.cfg.Store == nil {
		return
	}
	metadata := "{}"
	if len(r.req.Metadata) > 0 {
		if data, err := json.Marshal(r.req.Metadata); err == nil {
			metadata = string(data)
		}
	}
	row := &stores.Run{
		ID:            r.id,
		Environment:   r.req.Environment,
		TemplatePath:  r.req.Template.TemplatePath,
		ResourceGroup: r.req.ResourceGroup,
		Region:        r.req.DesiredRegion,
		State:         string(StatePending),
		MaxAttempts:   r.req.MaxAttempts,
		StartedAt:     r.startedAt,
		Metadata:      metadata,
	}
	if r.req.Template.ParametersPath != "" {
		path := r.req.Template.ParametersPath
		row.ParametersPath = &path
	}
	if err := r.m.cfg.Store.CreateRun(ctx, row); err != nil {
		r.log.Warn().Err(err).Msg("Failed to persist run")
	}
}

func (r *run) persistState(ctx context.Context, state RunState) {
	if r.m.cfg.Store == nil {
		return
	}
	if err := r.m.cfg.Store.UpdateRunState(ctx, r.id, string(state), nil, nil); err != nil {
		r.log.Warn().Err(err).Str("state", string(state)).Msg("Failed to persist run state")
	}
}

func (r *run) persistTarget(ctx context.Context, regionName, tier string) {
	if r.m.cfg.Store == nil {
		return
	}
	if err := r.m.cfg.Store.UpdateRunTarget(ctx, r.id, regionName, tier); err != nil {
		r.log.Warn().Err(err).Str("region", regionName).Msg("Failed to persist run target")
	}
}

func (r *run) persistRunFinished(ctx context.Context, state RunState, reason FailureReason, engErr *EngineError, completedAt time.Time) {
	if r.m.cfg.Store == nil {
		return
	}
	var reasonPtr, errPtr *string
	if reason != "" {
		s := string(reason)
		reasonPtr = &s
	}
	if engErr != nil {
		s := engErr.Error()
		errPtr = &s
	}
	if err := r.m.cfg.Store.UpdateRunState(ctx, r.id, string(state), reasonPtr, errPtr); err != nil {
		r.log.Warn().Err(err).Msg("Failed to persist run outcome")
	}
}

func (r *run) persistAttemptStarted(ctx context.Context, attempt *Attempt) {
	if r.m.cfg.Store == nil {
		return
	}
	id := uuid.New().String()
	r.attemptIDs[attempt.Seq] = id
	row := &stores.Attempt{
		ID:        id,
		RunID:     r.id,
		Seq:       attempt.Seq,
		Region:    attempt.Region,
		Tier:      attempt.Tier,
		Status:    stores.AttemptStatusRunning,
		StartedAt: attempt.StartedAt,
	}
	if err := r.m.cfg.Store.CreateAttempt(ctx, row); err != nil {
		r.log.Warn().Err(err).Int("attempt", attempt.Seq).Msg("Failed to persist attempt")
	}
}

func (r *run) persistAttemptOutcome(ctx context.Context, attempt *Attempt, status stores.AttemptStatus, rec *classify.Record) {
	if r.m.cfg.Store == nil {
		return
	}
	id, ok := r.attemptIDs[attempt.Seq]
	if !ok {
		return
	}
	var kind, rule, diag *string
	if rec != nil {
		k := string(rec.Kind)
		kind = &k
		if rec.RuleID != "" {
			rule = &rec.RuleID
		}
		if rec.Excerpt != "" {
			diag = &rec.Excerpt
		}
	}
	if err := r.m.cfg.Store.UpdateAttemptStatus(ctx, id, status, kind, rule, diag); err != nil {
		r.log.Warn().Err(err).Int("attempt", attempt.Seq).Msg("Failed to persist attempt outcome")
	}
}

func (r *run) persistBackoff(ctx context.Context, seq int, delay time.Duration) {
	if r.m.cfg.Store == nil {
		return
	}
	id, ok := r.attemptIDs[seq]
	if !ok {
		return
	}
	if err := r.m.cfg.Store.SetAttemptBackoff(ctx, id, delay); err != nil {
		r.log.Warn().Err(err).Int("attempt", seq).Msg("Failed to persist backoff")
	}
}

func (r *run) persistFix(ctx context.Context, seq int, fix *remedy.FixRecord) {
	if r.m.cfg.Store == nil {
		return
	}
	row := &stores.Fix{
		ID:           fix.ID,
		RunID:        r.id,
		AttemptSeq:   seq,
		RuleID:       fix.RuleID,
		Risk:         string(fix.Risk),
		Path:         fix.Path,
		Line:         fix.Line,
		Before:       fix.Before,
		After:        fix.After,
		Verification: string(fix.Verification),
		AppliedAt:    fix.AppliedAt,
	}
	if err := r.m.cfg.Store.CreateFix(ctx, row); err != nil {
		r.log.Warn().Err(err).Str("rule", fix.RuleID).Msg("Failed to persist fix")
	}
}

func attemptPayload(a *Attempt) auditAttemptPayload {
	payload := auditAttemptPayload{
		Seq:     a.Seq,
		Region:  a.Region,
		Tier:    a.Tier,
		Success: a.Success,
	}
	if a.Classification != nil {
		payload.ErrorKind = string(a.Classification.Kind)
		payload.RuleID = a.Classification.RuleID
		payload.Summary = a.Classification.Summary
	}
	return payload
}

// joinDiagnostic merges the collaborator's diagnostic text with a call
// error so classification sees both.
func joinDiagnostic(diagnostic string, err error) string {
	if err == nil {
		return diagnostic
	}
	if diagnostic == "" {
		return err.Error()
	}
	return diagnostic + "\n" + err.Error()
}

// errMessage returns the message of an error, empty for nil.
func errMessage(err *EngineError) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sleepContext sleeps for d unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
