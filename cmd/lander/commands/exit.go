package commands

import (
	"errors"
	"fmt"

	"github.com/openlander/openlander/pkg/engine"
)

// Process exit codes. Scripts branch on these, so the mapping is part of
// the command contract.
const (
	// ExitOK means the command succeeded.
	ExitOK = 0
	// ExitLogic means the deployment failed on a logic-class error that
	// retrying cannot fix (template bugs, broken references).
	ExitLogic = 1
	// ExitEnvironmental means the attempt budget or wall clock ran out on
	// environmental failures, or the run was cancelled.
	ExitEnvironmental = 2
	// ExitHealth means the deployment applied but post-apply health
	// probes failed.
	ExitHealth = 3
	// ExitUsage means validation, resolution, or policy rejected the
	// request before any attempt was made, or the command was misused.
	ExitUsage = 4
)

// ExitError carries a process exit code alongside the underlying error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsage
}

// runExitCode maps a deployment run error to its exit code.
func runExitCode(err error) int {
	switch engine.CodeOf(err) {
	case engine.ErrCodeValidation, engine.ErrCodeNoViableRegion, engine.ErrCodePolicyDenied:
		return ExitUsage
	case engine.ErrCodeHealthCheck:
		return ExitHealth
	case engine.ErrCodeCancelled:
		return ExitEnvironmental
	}
	if engine.IsEnvironmental(err) {
		return ExitEnvironmental
	}
	if engine.IsLogic(err) {
		return ExitLogic
	}
	return ExitLogic
}
