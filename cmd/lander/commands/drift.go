package commands

import (
	"fmt"

	"github.com/openlander/openlander/pkg/region"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDriftCommand() *cobra.Command {
	var ov manifestOverrides

	cmd := &cobra.Command{
		Use:   "drift [manifest...]",
		Short: "Compare deployed state against the template",
		Long: `Compare what is deployed against what the template declares, without
changing anything.

Exit code 0 means no drift; exit code 1 means deployed state differs
from the template.`,
		Example: `  # Check the environment in the current directory
  lander drift

  # Check a specific manifest
  lander drift envs/prod.cue`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Strs("sources", manifestSources(args)).
				Msg("Checking for drift")

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			spec, err := loadSpec(ctx, args, ov)
			if err != nil {
				return err
			}
			req, err := buildRequest(ctx, settings, spec)
			if err != nil {
				return err
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
			report, err := azClient.WhatIf(ctx, applyTarget(req, plan))
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("drift check failed: %w", err)}
			}

			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			}
			if report.InSync() {
				if !jsonOutput {
					fmt.Println("✓ No drift detected.")
				}
				return nil
			}

			drifted := report.Drifted()
			if !jsonOutput {
				for _, change := range drifted {
					fmt.Printf("  %-10s %s\n", change.ChangeType, change.ResourceID)
				}
			}
			return &ExitError{
				Code: 1,
				Err:  fmt.Errorf("drift detected: %d resources differ", len(drifted)),
			}
		},
	}

	cmd.Flags().StringVarP(&ov.environment, "environment", "e", "", "override the manifest environment")
	cmd.Flags().StringVarP(&ov.resourceGroup, "resource-group", "g", "", "override the target resource group")
	cmd.Flags().StringVarP(&ov.location, "location", "l", "", "pin region resolution to one region")

	return cmd
}
