package engine

import (
	"encoding/json"
	"fmt"
)

// RunState represents the current state of a deployment run.
// Exactly one state is current at any time; every transition is recorded
// in the run's audit chain before it is acted on.
type RunState string

const (
	// StatePending indicates the run is accepted but not yet started.
	StatePending RunState = "pending"

	// StateValidating indicates pre-flight validation of the template
	// and the resolved plan is in progress.
	StateValidating RunState = "validating"

	// StateApplying indicates an apply attempt is in flight.
	StateApplying RunState = "applying"

	// StateClassifying indicates a failed attempt's diagnostic output
	// is being classified.
	StateClassifying RunState = "classifying"

	// StateRemediating indicates an autonomous fix is being applied
	// and re-validated.
	StateRemediating RunState = "remediating"

	// StateBackingOff indicates the run is sleeping before the next
	// attempt after an environmental failure.
	StateBackingOff RunState = "backing_off"

	// StateHealthChecking indicates post-apply health probes are running.
	StateHealthChecking RunState = "health_checking"

	// StateSucceeded indicates the run deployed and passed health checks.
	StateSucceeded RunState = "succeeded"

	// StateFailed indicates the run ended without a healthy deployment.
	StateFailed RunState = "failed"
)

// IsTerminal returns true if the run state represents a final state.
func (s RunState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// IsActive returns true if the run is still progressing.
func (s RunState) IsActive() bool {
	return !s.IsTerminal() && s.Validate() == nil
}

// Validate checks if the run state is valid.
func (s RunState) Validate() error {
	switch s {
	case StatePending, StateValidating, StateApplying, StateClassifying,
		StateRemediating, StateBackingOff, StateHealthChecking,
		StateSucceeded, StateFailed:
		return nil
	default:
		return fmt.Errorf("invalid run state: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunState(str)
	return s.Validate()
}

// FailureReason identifies why a run reached StateFailed.
type FailureReason string

const (
	// ReasonNoViableRegion indicates region resolution found no target.
	ReasonNoViableRegion FailureReason = "no_viable_region"

	// ReasonLogicError indicates an unremediated content defect.
	ReasonLogicError FailureReason = "logic_error"

	// ReasonBudgetExhausted indicates the attempt or wall-clock budget
	// ran out while retrying environmental failures.
	ReasonBudgetExhausted FailureReason = "budget_exhausted"

	// ReasonHealthCheckFailed indicates the deployment applied but did
	// not pass its health probes.
	ReasonHealthCheckFailed FailureReason = "health_check_failed"

	// ReasonUnknownFailure indicates a diagnostic no rule classified.
	ReasonUnknownFailure FailureReason = "unknown_failure"

	// ReasonCancelled indicates the caller cancelled the run.
	ReasonCancelled FailureReason = "cancelled"

	// ReasonPolicyDenied indicates a guardrail policy denied the run
	// before any attempt was made.
	ReasonPolicyDenied FailureReason = "policy_denied"

	// ReasonRemediationGated indicates the only matching fix rule was
	// above the autonomous risk ceiling and requires human action.
	ReasonRemediationGated FailureReason = "remediation_gated"
)

// Validate checks if the failure reason is valid.
func (r FailureReason) Validate() error {
	switch r {
	case ReasonNoViableRegion, ReasonLogicError, ReasonBudgetExhausted,
		ReasonHealthCheckFailed, ReasonUnknownFailure, ReasonCancelled,
		ReasonPolicyDenied, ReasonRemediationGated:
		return nil
	default:
		return fmt.Errorf("invalid failure reason: %s", r)
	}
}

// transitions lists the legal state transitions of the run state machine.
// The zero-value map key catches transitions out of terminal states.
// Applying reaches Succeeded directly when health checks are skipped;
// Remediating reaches BackingOff when re-validation times out and the
// fix's verified state is unknown.
var transitions = map[RunState][]RunState{
	StatePending:        {StateValidating, StateFailed},
	StateValidating:     {StateApplying, StateFailed},
	StateApplying:       {StateHealthChecking, StateClassifying, StateSucceeded, StateFailed},
	StateClassifying:    {StateRemediating, StateBackingOff, StateFailed},
	StateRemediating:    {StateApplying, StateBackingOff, StateFailed},
	StateBackingOff:     {StateApplying, StateFailed},
	StateHealthChecking: {StateSucceeded, StateFailed},
}

// CanTransition returns true if moving from state s to next is legal.
func (s RunState) CanTransition(next RunState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
