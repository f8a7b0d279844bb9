package remedy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openlander/openlander/pkg/classify"
)

// Validator re-validates deployment content after an edit. The azcli
// provider implements it with the platform's validation call.
type Validator interface {
	// Validate checks the target content. A false ok carries the raw
	// diagnostic; err reports that validation itself could not run.
	Validate(ctx context.Context, target Target) (ok bool, diagnostic string, err error)
}

// NoRuleError reports that no rule in the table matched a failure.
type NoRuleError struct {
	// Kind is the failure kind that had no matching rule.
	Kind classify.Kind
}

func (e *NoRuleError) Error() string {
	return fmt.Sprintf("no remediation rule matches %s failures", e.Kind)
}

// IsNoRule checks if an error is a NoRuleError.
func IsNoRule(err error) bool {
	var noRule *NoRuleError
	return errors.As(err, &noRule)
}

// Remediator applies at most one fix per failed attempt and verifies
// the result synchronously.
type Remediator struct {
	registry  *Registry
	validator Validator
	ws        Workspace
	logger    zerolog.Logger
}

// NewRemediator creates a remediator over the given rule table,
// validator, and workspace.
func NewRemediator(registry *Registry, validator Validator, ws Workspace, logger zerolog.Logger) *Remediator {
	return &Remediator{
		registry:  registry,
		validator: validator,
		ws:        ws,
		logger:    logger.With().Str("component", "remediator").Logger(),
	}
}

// HasRule reports whether any rule in the table matches the failure.
// Callers use it to decide whether remediation is worth entering at
// all; a false answer means Remediate would return NoRuleError.
func (r *Remediator) HasRule(req *Request) bool {
	return r.registry.Find(req) != nil
}

// Remediate applies the first matching rule to the classified failure.
// Rules above low risk never run: the returned record carries
// VerificationSkipped and the rule id so the caller can surface the
// gate. A passing pre-check yields VerificationAlreadyFixed without
// touching the content or the validator. An edit that fails
// re-validation stays on disk and the record carries VerificationFail.
// When re-validation cannot run at all, the record is returned
// alongside the error so the fix is still accounted for.
func (r *Remediator) Remediate(ctx context.Context, req *Request) (*FixRecord, error) {
	if req == nil || req.Record == nil {
		return nil, fmt.Errorf("remediation request has no classification")
	}

	rule := r.registry.Find(req)
	if rule == nil {
		return nil, &NoRuleError{Kind: req.Record.Kind}
	}

	record := &FixRecord{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		Risk:      rule.Risk,
		AppliedAt: time.Now().UTC(),
	}

	if !rule.Risk.AutoApplicable() {
		record.Verification = VerificationSkipped
		r.logger.Warn().
			Str("rule", rule.ID).
			Str("risk", string(rule.Risk)).
			Msg("Fix needs operator review, not applying")
		return record, nil
	}

	fixed, err := rule.Fixed(r.ws, req)
	if err != nil {
		return nil, fmt.Errorf("failed to pre-check rule %s: %w", rule.ID, err)
	}
	if fixed {
		record.Verification = VerificationAlreadyFixed
		r.logger.Info().
			Str("rule", rule.ID).
			Msg("Target already has the post-fix shape, skipping")
		return record, nil
	}

	edit, err := rule.Apply(r.ws, req)
	if err != nil {
		return nil, fmt.Errorf("failed to apply rule %s: %w", rule.ID, err)
	}
	record.Path = edit.Path
	record.Line = edit.Line
	record.Before = edit.Before
	record.After = edit.After

	// The edit is on disk now. Verification only decides whether the
	// next apply attempt is worth scheduling; a failed verification
	// does not revert the edit.
	ok, diagnostic, err := r.validator.Validate(ctx, req.Target)
	if err != nil {
		record.Verification = VerificationFail
		return record, fmt.Errorf("failed to re-validate after rule %s: %w", rule.ID, err)
	}
	if !ok {
		record.Verification = VerificationFail
		r.logger.Warn().
			Str("rule", rule.ID).
			Str("path", record.Path).
			Str("diagnostic", firstLine(diagnostic)).
			Msg("Fix failed re-validation, edit left in place")
		return record, nil
	}

	record.Verification = VerificationPass
	r.logger.Info().
		Str("rule", rule.ID).
		Str("path", record.Path).
		Int("line", record.Line).
		Msg("Fix applied and verified")
	return record, nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return snippet(trimmed)
		}
	}
	return ""
}
