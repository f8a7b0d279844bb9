package commands

import (
	"context"
	"fmt"

	"github.com/openlander/openlander/pkg/region"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var ov manifestOverrides

	cmd := &cobra.Command{
		Use:   "validate [manifest...]",
		Short: "Validate the manifest and template",
		Long: `Validate an environment's manifest and deployment template without
deploying anything.

This command:
  - Parses and validates the CUE manifest against its schema
  - Runs the WASM lint plugins against the template
  - Resolves a region so validation targets a real deployment surface
  - Asks the platform to validate the template`,
		Example: `  # Validate the manifest in the current directory
  lander validate

  # Validate a specific manifest, skipping lint plugins
  lander validate envs/prod.cue --skip-lint`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Strs("sources", manifestSources(args)).
				Msg("Validating manifest")

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if err := validatePass(ctx, settings, args, ov); err != nil {
				return err
			}
			fmt.Println("✓ Manifest and template are valid")
			return nil
		},
	}

	cmd.Flags().StringVarP(&ov.environment, "environment", "e", "", "override the manifest environment")
	cmd.Flags().StringVarP(&ov.resourceGroup, "resource-group", "g", "", "override the target resource group")
	cmd.Flags().StringVarP(&ov.location, "location", "l", "", "pin region resolution to one region")
	cmd.Flags().BoolVar(&ov.skipLint, "skip-lint", false, "skip the lint plugins")

	return cmd
}

// validatePass runs the full validation pipeline once. Shared with
// `lander dev`, which re-runs it on every file change.
func validatePass(ctx context.Context, settings *Settings, args []string, ov manifestOverrides) error {
	spec, err := loadSpec(ctx, args, ov)
	if err != nil {
		return err
	}
	req, err := buildRequest(ctx, settings, spec)
	if err != nil {
		return err
	}

	if !spec.SkipLint {
		if err := lintTemplate(ctx, settings, req); err != nil {
			return err
		}
	}

	set, err := loadRegionSet(settings)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to load region profiles: %w", err)}
	}
	plan, err := region.NewResolver(set).Resolve(region.ResolveRequest{
		DesiredRegion: req.DesiredRegion,
		DesiredTiers:  req.DesiredTiers,
	})
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	azClient, err := newPlatformClient(settings)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	toolchains, err := platformToolchains(azClient)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	toolchain, err := toolchains.ResolveFor(req.Template)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	ok, diagnostic, err := toolchain.Validator.Validate(ctx, applyTarget(req, plan))
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("validation could not run: %w", err)}
	}
	if !ok {
		log.Error().Str("diagnostic", diagnostic).Msg("Template validation failed")
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("template validation failed")}
	}
	return nil
}
