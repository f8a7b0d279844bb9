package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/openlander/openlander/pkg/config"
	"github.com/openlander/openlander/pkg/engine"
	"github.com/openlander/openlander/pkg/providers/azcli"
	"github.com/openlander/openlander/pkg/providers/host"
	"github.com/openlander/openlander/pkg/region"
	"github.com/rs/zerolog/log"
)

// manifestOverrides are the flag values layered over the parsed
// manifest. Empty strings and false leave the manifest untouched.
type manifestOverrides struct {
	environment   string
	resourceGroup string
	location      string
	maxAttempts   int
	budget        string
	skipHealth    bool
	skipLint      bool
}

// manifestSources returns the manifest files or directories to parse.
// No arguments means the working directory.
func manifestSources(args []string) []string {
	if len(args) == 0 {
		return []string{"."}
	}
	return args
}

// loadSpec parses the manifest sources and applies flag overrides.
func loadSpec(ctx context.Context, args []string, ov manifestOverrides) (engine.RequestSpec, error) {
	parser := config.NewManifestParser()
	parsed, err := parser.Parse(ctx, manifestSources(args))
	if err != nil {
		return engine.RequestSpec{}, &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to parse manifest: %w", err)}
	}
	if !parsed.Valid() {
		for _, verr := range parsed.Errors {
			fmt.Fprintf(os.Stderr, "manifest: %s\n", verr.Error())
		}
		return engine.RequestSpec{}, &ExitError{
			Code: ExitUsage,
			Err:  fmt.Errorf("manifest has %d validation errors", len(parsed.Errors)),
		}
	}

	manifest := parsed.Manifest
	if ov.environment != "" {
		manifest.Environment = ov.environment
	}
	if ov.resourceGroup != "" {
		manifest.ResourceGroup = ov.resourceGroup
	}
	if ov.location != "" {
		manifest.Region = ov.location
	}
	if ov.maxAttempts > 0 {
		manifest.Budget.MaxAttempts = ov.maxAttempts
	}
	if ov.budget != "" {
		manifest.Budget.MaxWallClock = ov.budget
	}

	spec, err := manifest.Spec()
	if err != nil {
		return engine.RequestSpec{}, &ExitError{Code: ExitUsage, Err: err}
	}
	spec.SkipHealthChecks = spec.SkipHealthChecks || ov.skipHealth
	spec.SkipLint = spec.SkipLint || ov.skipLint
	return spec, nil
}

// buildRequest resolves store parameters and validates the spec.
func buildRequest(ctx context.Context, s *Settings, spec engine.RequestSpec) (*engine.DeploymentRequest, error) {
	var store engine.ParameterStore
	if s.Parameters.Path != "" {
		fileStore, err := config.NewFileParameterStore(s.Parameters.Path)
		if err != nil {
			return nil, &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to open parameter store: %w", err)}
		}
		store = fileStore
	}

	req, err := engine.NewRequestBuilder(store, log.Logger).Build(ctx, spec)
	if err != nil {
		return nil, &ExitError{Code: runExitCode(err), Err: err}
	}
	return req, nil
}

// lintTemplate runs the WASM lint plugins against the request's
// template. Error-severity findings block; a missing plugin directory
// means no lint.
func lintTemplate(ctx context.Context, s *Settings, req *engine.DeploymentRequest) error {
	if _, err := os.Stat(s.Plugins.Dir); os.IsNotExist(err) {
		return nil
	}

	registry := host.NewRegistry(s.Plugins.Dir, &host.HostConfig{
		WorkspaceDir: req.Template.WorkspaceDir,
		Logger:       log.Logger,
	})
	defer registry.Close(ctx)

	if err := registry.ScanDirectory(ctx, s.Plugins.Dir); err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to scan lint plugins: %w", err)}
	}

	reports, err := registry.Lint(ctx, host.LintRequest{
		TemplatePath:   req.Template.TemplatePath,
		ParametersPath: req.Template.ParametersPath,
		Environment:    req.Environment,
	})
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("lint failed: %w", err)}
	}

	blocking := 0
	for _, report := range reports {
		for _, finding := range report.Findings {
			fmt.Fprintf(os.Stderr, "[%s] %s/%s: %s", finding.Severity, report.Plugin, finding.Check, finding.Message)
			if finding.Line > 0 {
				fmt.Fprintf(os.Stderr, " (%s:%d)", req.Template.TemplatePath, finding.Line)
			}
			fmt.Fprintln(os.Stderr)
			if finding.Severity == host.SeverityError {
				blocking++
			}
		}
	}
	if blocking > 0 {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("lint found %d blocking issues", blocking)}
	}
	return nil
}

// applyTarget builds the apply locator for a request and plan, for
// commands that call the platform outside a run.
func applyTarget(req *engine.DeploymentRequest, plan *region.ResolvedPlan) engine.ApplyTarget {
	return engine.ApplyTarget{
		ResourceGroup:  req.ResourceGroup,
		Region:         plan.Region,
		WorkspaceDir:   req.Template.WorkspaceDir,
		TemplatePath:   req.Template.TemplatePath,
		ParametersPath: req.Template.ParametersPath,
		Tiers:          plan.EffectiveTiers,
		Parameters:     req.Parameters,
	}
}

// platformToolchains registers the deployment toolchains the platform
// client backs. Bicep is the default; ARM JSON shares it.
func platformToolchains(client *azcli.Client) (*engine.ToolchainRegistry, error) {
	registry := engine.NewToolchainRegistry()
	err := registry.Register(&engine.Toolchain{
		Name:      "bicep",
		Applier:   client,
		Validator: client,
	}, ".bicep", ".json")
	if err != nil {
		return nil, err
	}
	return registry, nil
}
