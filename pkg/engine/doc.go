// Package engine provides the deployment state machine and the core
// types of the OpenLander orchestration engine.
//
// # Overview
//
// OpenLander drives an infrastructure deployment to completion despite
// partial failures, regional capability gaps, and recoverable defects
// in the deployment content. A run moves through a fixed sequence of
// states:
//
//  1. Validating - Resolve the target region, gate on policy, lint the template
//  2. Applying - Submit the content to the deployment surface
//  3. Classifying - Assign a failed attempt's raw diagnostic an error kind
//  4. Remediating - Apply at most one risk-gated fix and re-validate it
//  5. BackingOff - Sleep with exponential backoff after environmental failures
//  6. HealthChecking - Probe the deployed services once after a successful apply
//
// until it reaches Succeeded or Failed. Every transition is appended to
// the run's hash-chained audit log before it is acted on, so the chain
// reflects attempted actions even when the process is interrupted.
//
// # Core Domain Types
//
// The package defines the types that represent the execution model:
//
//   - DeploymentRequest: The immutable input to a run
//   - Attempt: One apply try with its outcome and classification
//   - RunResult: The terminal outcome with the full attempt history and audit chain
//   - RunState: The current state of a run (pending through succeeded/failed)
//   - FailureReason: Why a failed run failed
//   - EngineError: A classified error with a stable code
//
// # Collaborator Interfaces
//
// The machine owns no external behavior; collaborators are injected
// through MachineConfig:
//
//   - TemplateApplier: Submits content to the deployment surface
//   - TemplateValidator: Checks content without deploying it
//   - RegionResolver: Picks the target region and effective tiers
//   - FailureClassifier: Turns raw diagnostics into error kinds
//   - Remediator: Applies risk-gated fixes to deployment content
//   - HealthChecker: Runs post-apply liveness probes
//   - PolicyGate: Evaluates guardrail policies before the first attempt
//   - RunStore: Persists runs, attempts, fixes, and audit mirror rows
//
// # Error Classification
//
// Errors carry one of three classes, which decide how the run loop
// reacts:
//
//   - Logic: A content defect; remediated at most once, never retried blindly
//   - Environmental: Capacity or transient failure; retried with backoff
//   - Fatal: Not recoverable by this run; surfaced immediately
//
// Use the error helper functions to classify and inspect errors:
//
//	if engine.IsEnvironmental(err) {
//	    // The run exhausted its retry budget.
//	}
//
// # Example Usage
//
// Basic workflow for executing a deployment:
//
//	machine, err := engine.NewMachine(engine.MachineConfig{
//	    Resolver:   resolver,
//	    Regions:    regions,
//	    Classifier: classifier,
//	    Remediator: remediator,
//	    Validator:  toolchain.Validator,
//	    Applier:    toolchain.Applier,
//	    Health:     checker,
//	})
//
//	result, err := machine.Execute(ctx, req)
//	if result.Succeeded() {
//	    // Deployed and healthy.
//	}
//
// # Concurrency
//
// A single run is strictly sequential: apply, classify, remediate, and
// health-check form a causal chain. A Machine holds only immutable
// collaborators, so independent runs may execute concurrently on one
// Machine provided each run gets its own audit sink.
package engine
