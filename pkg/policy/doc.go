// Package policy provides Open Policy Agent (OPA) guardrails for
// deployment runs.
//
// Every run is checked once, after region resolution and before the
// first apply attempt. Policies see the environment, the request's
// budgets and switches, and the resolved plan (region, effective
// tiers, downgrades); a violation at error or critical severity denies
// the run.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Gate - Adapts the engine to the run machine's pre-run check
//  3. Loader - Loads policies from files, directories, and bundles
//  4. Built-in Policies - The guardrails every engine ships with
//
// # Usage
//
// Wiring the gate into a run machine:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Policy = policy.NewGate(eng, logger)
//
// Evaluating directly:
//
//	result, err := eng.Evaluate(ctx, policy.InputFor(req, plan))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Allowed {
//	    for _, violation := range result.Blocking() {
//	        fmt.Printf("%s: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	err = eng.LoadPolicies(ctx, []string{"/etc/lander/policies"})
//
// A custom policy that reuses a builtin's name overrides it.
//
// # Built-in Policies
//
// The following guardrails are included by default. All of them treat
// environments whose name starts with "prod" as production.
//
//  1. production-regions - Production deploys only to fully supported regions
//  2. tier-floors - Production services never deploy below their minimum tier
//  3. change-freeze - Frozen environments accept no runs at all
//  4. attempt-budget - Caps production attempt budgets, forbids skipping health checks
//
// # Custom Policies
//
// Custom policies are written in Rego against the same input document.
// The file's leading comment block supplies the description, and a
// "# severity: error" line in it sets the default severity:
//
//	# Pinned production regions must match the resolved region.
//	# severity: error
//	package custom.policies.pinning
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.plan
//	    input.request.desired_region != ""
//	    input.plan.region != input.request.desired_region
//
//	    violation := {
//	        "message": "Resolved region differs from the pinned region",
//	        "severity": "error",
//	        "resource": input.plan.region,
//	    }
//	}
//
// Deny rules may also emit bare strings; the policy's default severity
// then applies.
//
// # Severity Levels
//
// Violations have four severity levels:
//
//   - info: Informational messages
//   - warning: Findings to review; the run proceeds
//   - error: Violations that deny the run
//   - critical: Violations that deny the run and need immediate attention
//
// # Hot Reload
//
// The loader watches policy files and pushes the reloaded set into the
// engine, debounced:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.ReplacePolicies(ctx, policies)
//	})
//
// # Performance
//
// Each policy's deny query is prepared once at load time with OPA's
// PreparedEvalQuery and reused for every evaluation.
package policy
