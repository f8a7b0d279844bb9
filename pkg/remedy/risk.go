// Package remedy repairs deployment content after a classified failure.
// Fixes come from a closed, ordered rule table; each rule carries a risk
// tier and only low-risk rules ever run autonomously. An attempt applies
// at most one fix, re-validates synchronously, and records the outcome.
// Edits are never rolled back: a fix whose re-validation fails stays in
// place and the failure is surfaced.
package remedy

import (
	"fmt"
	"time"
)

// Risk is the safety tier of a remediation rule.
type Risk string

const (
	// RiskLow fixes are mechanical and safe to apply without review.
	RiskLow Risk = "low"

	// RiskMedium fixes change behavior and need operator review.
	RiskMedium Risk = "medium"

	// RiskHigh fixes are destructive and always need operator review.
	RiskHigh Risk = "high"
)

// AutoApplicable returns true if rules of this tier may run autonomously.
func (r Risk) AutoApplicable() bool {
	return r == RiskLow
}

// Validate checks if the risk is a known tier.
func (r Risk) Validate() error {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return nil
	default:
		return fmt.Errorf("invalid risk tier: %s", r)
	}
}

// Verification is the outcome of the synchronous re-validation that
// follows every fix.
type Verification string

const (
	// VerificationPass means the content validated after the edit.
	VerificationPass Verification = "pass"

	// VerificationFail means the content still fails validation. The
	// edit is left in place.
	VerificationFail Verification = "fail"

	// VerificationSkipped means the rule's risk tier blocked autonomous
	// application and nothing was edited.
	VerificationSkipped Verification = "skipped"

	// VerificationAlreadyFixed means the pre-check found the target
	// already in the post-fix shape, so the edit was a no-op.
	VerificationAlreadyFixed Verification = "skip-already-fixed"
)

// Validate checks if the verification is a known outcome.
func (v Verification) Validate() error {
	switch v {
	case VerificationPass, VerificationFail, VerificationSkipped, VerificationAlreadyFixed:
		return nil
	default:
		return fmt.Errorf("invalid verification outcome: %s", v)
	}
}

// FixRecord describes one remediation action and its outcome. Records
// are immutable once created: re-running an attempt produces a new
// record, never an edit to an old one.
type FixRecord struct {
	// ID uniquely identifies the fix.
	ID string `json:"id"`

	// RuleID names the rule that produced the fix.
	RuleID string `json:"rule_id"`

	// Risk is the rule's tier at the time the fix was considered.
	Risk Risk `json:"risk"`

	// Path is the edited file, relative to the workspace root. Empty
	// when nothing was edited.
	Path string `json:"path,omitempty"`

	// Line is the 1-based line the fix targeted, zero when the edit is
	// not line-scoped.
	Line int `json:"line,omitempty"`

	// Before is a bounded snippet of the content the fix replaced.
	Before string `json:"before,omitempty"`

	// After is a bounded snippet of the content the fix produced.
	After string `json:"after,omitempty"`

	// Verification is the re-validation outcome for the fix.
	Verification Verification `json:"verification"`

	// AppliedAt is when the fix was considered.
	AppliedAt time.Time `json:"applied_at"`
}
