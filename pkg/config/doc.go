// Package config parses environment deployment manifests written in
// CUE and resolves per-environment parameters.
//
// # Overview
//
// A manifest names one deployable environment: the resource group,
// desired service tiers, the template to deploy, run budgets, probe
// parameters, and operator metadata. Manifests live in version control
// next to the templates they deploy; `lander deploy --env prod-east`
// parses the manifest, builds a deployment request from it, and hands
// the request to the engine.
//
// # Components
//
// ManifestParser: parses CUE sources (files, directories, or inline
// content), unifies them, and decodes the `manifest` block. Multiple
// sources unify before extraction, so a base manifest and a
// per-environment overlay can live in separate files. Parse and
// validation problems are collected with source positions rather than
// aborting on the first one.
//
// SchemaRegistry: compiled CUE schemas the decoded manifest is checked
// against. The built-in #Manifest definition is closed, so a misspelled
// field is an error, not silently ignored.
//
// StarlarkEvaluator: sandboxed interpreter for computed parameters. A
// manifest may derive parameter values procedurally, for example a
// storage account name built from the environment name:
//
//	manifest: {
//	    environment:   "prod-east"
//	    resourceGroup: "rg-payments-prod"
//	    tiers: {functions: "premium", storage: "standard_zrs"}
//	    template: {dir: ".", file: "main.bicep"}
//	    computed: {
//	        storageAccount: #"value = env["environment"].replace("-", "") + "st""#
//	    }
//	}
//
// Each script must assign `value`; the result merges into the
// manifest's parameters unless the name is already set inline. Scripts
// run sandboxed: no filesystem, no network, print suppressed, bounded
// by a timeout.
//
// FileParameterStore: YAML-backed per-environment parameter values for
// material that does not belong in the manifest itself, such as
// connection strings handed over by another team. The engine's request
// builder reads listed keys from it exactly once, when the request is
// built.
package config
