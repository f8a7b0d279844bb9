// Package azcli drives deployments through the platform CLI.
//
// Client is the production implementation of the engine's template
// applier and validator: every operation shells out to `az` with a
// per-call timeout and captures raw stdout/stderr. A deployment that
// runs but is rejected comes back as ok=false with the CLI's own
// diagnostic text, untouched, so the failure classifier sees exactly
// what the platform said. A process that cannot run at all (binary
// missing, context cancelled, timeout) is an error.
//
// The same Client also serves:
//
//   - live capability discovery (ListSupportedTiers) by listing
//     provider SKUs per region through `az rest`,
//   - drift detection (WhatIf) by comparing deployed state against
//     the template with `az deployment group what-if`,
//   - fix re-validation (FixValidator) so the remediator can confirm
//     an edited template server-side before the next attempt.
//
// Subscription defaults (resource group, location) come from the CLI's
// own INI config at ~/.azure/config; an explicit value on the target
// always wins. Tier parameters are appended after the caller's own
// parameters, so the tiers the resolver settled on cannot be
// overridden from a parameter file.
package azcli
