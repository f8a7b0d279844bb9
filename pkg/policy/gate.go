package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openlander/openlander/pkg/engine"
	"github.com/openlander/openlander/pkg/region"
)

// DenialError carries the blocking violations that denied a run.
type DenialError struct {
	// Violations are the blocking violations, in policy name order.
	Violations []Violation
}

func (e *DenialError) Error() string {
	if len(e.Violations) == 0 {
		return "policy denied the run"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return fmt.Sprintf("%d policy violation(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// Gate adapts the policy engine to the run machine. It evaluates every
// enabled policy against the request and resolved plan before the
// first attempt; a blocking violation denies the run.
type Gate struct {
	engine *Engine
	logger zerolog.Logger
}

// NewGate wraps a policy engine for use as a pre-run gate.
func NewGate(eng *Engine, logger zerolog.Logger) *Gate {
	return &Gate{
		engine: eng,
		logger: logger.With().Str("component", "policy-gate").Logger(),
	}
}

// Check evaluates the guardrails. It returns nil when the run may
// proceed; a denial returns a DenialError listing the blocking
// violations. Non-blocking violations are logged and let the run
// continue.
func (g *Gate) Check(ctx context.Context, req *engine.DeploymentRequest, plan *region.ResolvedPlan) error {
	result, err := g.engine.Evaluate(ctx, InputFor(req, plan))
	if err != nil {
		return fmt.Errorf("failed to evaluate policies: %w", err)
	}

	for _, warning := range result.Warnings {
		g.logger.Warn().Str("environment", req.Environment).Msg(warning)
	}
	for _, v := range result.Violations {
		if v.Severity.Blocking() {
			continue
		}
		g.logger.Warn().
			Str("policy", v.Policy).
			Str("resource", v.Resource).
			Msg(v.Message)
	}

	if result.Allowed {
		return nil
	}
	return &DenialError{Violations: result.Blocking()}
}

// InputFor flattens a request and its resolved plan into the policy
// input document.
func InputFor(req *engine.DeploymentRequest, plan *region.ResolvedPlan) *Input {
	input := &Input{
		Environment:   req.Environment,
		ResourceGroup: req.ResourceGroup,
		Frozen:        req.Metadata[engine.MetadataKeyFrozen] == "true",
		Metadata:      req.Metadata,
		Timestamp:     time.Now().UTC(),
		Request: &RequestInput{
			DesiredRegion:       req.DesiredRegion,
			DesiredTiers:        req.DesiredTiers,
			MaxAttempts:         req.MaxAttempts,
			MaxWallClockSeconds: int(req.MaxWallClock / time.Second),
			SkipHealthChecks:    req.SkipHealthChecks,
			SkipLint:            req.SkipLint,
		},
	}

	if plan != nil {
		pi := &PlanInput{
			Region:         plan.Region,
			EffectiveTiers: plan.EffectiveTiers,
		}
		for _, d := range plan.Downgrades {
			pi.Downgrades = append(pi.Downgrades, DowngradeInput{
				Service:   d.Service,
				Requested: d.Requested,
				Effective: d.Effective,
				Reason:    d.Reason,
			})
		}
		input.Plan = pi
	}

	return input
}
