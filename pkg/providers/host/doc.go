// Package host runs WASM lint plugins that inspect deployment
// templates before anything reaches the platform.
//
// A plugin ships as a directory holding a manifest.yaml and a wasip1
// module. The manifest declares the plugin's name, version, the checks
// it can report, the capabilities it needs, and optionally a SHA-256
// checksum of the module:
//
//	name: template-lint
//	version: 1.0.0
//	description: Structural template checks
//	capabilities:
//	  - template:read
//	  - log
//	checks:
//	  - id: unbalanced-braces
//	    description: Braces and brackets must balance
//	    severity: error
//	entrypoint: template_lint.wasm
//
// The host instantiates each module with wazero (WASI, a memory cap,
// close-on-context-done) and talks JSON over linear memory: the
// plugin exports malloc, free, and lint; the host exposes
// read_template and log, both gated on declared capabilities, with
// template reads contained to the deployment workspace.
//
// The Registry scans a plugin directory, registers manifests, and
// lazily instantiates modules on first lint. Registry.Lint runs the
// latest version of every plugin over a template in name order.
// Findings are advisory except severity=error, which the deploy and
// validate pre-flights treat as a validation failure; --skip-lint
// bypasses the pass entirely.
package host
