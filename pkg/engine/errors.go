package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a run-level error for retry
// and exit-code decisions.
type ErrorClass string

const (
	// ErrorClassLogic indicates a defect in template or script content.
	// Logic errors are fixed by editing content, never by waiting.
	ErrorClassLogic ErrorClass = "logic"

	// ErrorClassEnvironmental indicates a transient or capacity-related
	// failure unrelated to content correctness. Retried with backoff.
	ErrorClassEnvironmental ErrorClass = "environmental"

	// ErrorClassFatal indicates a failure that no retry or edit can
	// recover: unresolvable regions, unclassified diagnostics,
	// failed health checks, caller cancellation.
	ErrorClassFatal ErrorClass = "fatal"
)

// EngineError represents a classified error with deployment context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry and exit-code logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is a stable code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Environment is the environment the run was deploying, if known.
	Environment string `json:"environment,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Environment != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (environment=%s, operation=%s): %s",
			e.Class, e.Message, e.Environment, e.Operation, e.unwrapMessage())
	}
	if e.Environment != "" {
		return fmt.Sprintf("[%s] %s (environment=%s): %s",
			e.Class, e.Message, e.Environment, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewLogicError creates a new logic-class error.
func NewLogicError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassLogic,
		Message: message,
		Err:     err,
	}
}

// NewEnvironmentalError creates a new environmental-class error.
func NewEnvironmentalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassEnvironmental,
		Message: message,
		Err:     err,
	}
}

// NewFatalError creates a new fatal-class error.
func NewFatalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFatal,
		Message: message,
		Err:     err,
	}
}

// WithEnvironment adds environment context to an error.
func (e *EngineError) WithEnvironment(environment string) *EngineError {
	e.Environment = environment
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds a stable error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsLogic returns true if the error is classified as a content defect.
func IsLogic(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassLogic
	}
	return false
}

// IsEnvironmental returns true if the error is classified as environmental.
func IsEnvironmental(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassEnvironmental
	}
	return false
}

// IsFatal returns true if the error is classified as fatal.
func IsFatal(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// IsRetryable returns true if the error can be retried with backoff.
// Only environmental errors are retryable; logic errors need an edit and
// fatal errors end the run.
func IsRetryable(err error) bool {
	return IsEnvironmental(err)
}

// CodeOf returns the stable code carried by the error, or an empty string.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Stable error codes surfaced on terminal failures.
const (
	ErrCodeNoViableRegion     = "NO_VIABLE_REGION"
	ErrCodeBudgetExhausted    = "BUDGET_EXHAUSTED"
	ErrCodeHealthCheck        = "HEALTH_CHECK_FAILED"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeUnknownFailure     = "UNKNOWN_FAILURE"
	ErrCodeNoApplicableRule   = "NO_APPLICABLE_RULE"
	ErrCodeRemediationRisk    = "REMEDIATION_RISK_GATED"
	ErrCodeVerificationFailed = "FIX_VERIFICATION_FAILED"
	ErrCodeFixIneffective     = "FIX_INEFFECTIVE"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeInternal           = "INTERNAL_ERROR"
)
