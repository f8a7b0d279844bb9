package commands

import (
	"fmt"
	"sort"

	"github.com/openlander/openlander/pkg/engine"
	"github.com/openlander/openlander/pkg/region"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var ov manifestOverrides

	cmd := &cobra.Command{
		Use:   "plan [manifest...]",
		Short: "Resolve and print the deployment plan",
		Long: `Resolve the deployment plan for an environment without deploying.

This command:
  - Parses and validates the CUE manifest
  - Resolves a region from the capability catalog
  - Prints the effective tier per service, with forced downgrades`,
		Example: `  # Plan the manifest in the current directory
  lander plan

  # Plan into a pinned region
  lander plan envs/prod.cue --location westeurope`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Strs("sources", manifestSources(args)).
				Msg("Resolving deployment plan")

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
			return renderPlan(settings, req)
		},
	}

	cmd.Flags().StringVarP(&ov.environment, "environment", "e", "", "override the manifest environment")
	cmd.Flags().StringVarP(&ov.resourceGroup, "resource-group", "g", "", "override the target resource group")
	cmd.Flags().StringVarP(&ov.location, "location", "l", "", "pin region resolution to one region")

	return cmd
}

type planView struct {
	Environment   string               `json:"environment"`
	ResourceGroup string               `json:"resource_group"`
	Template      engine.TemplateRef   `json:"template"`
	Plan          *region.ResolvedPlan `json:"plan"`
}

// renderPlan resolves the request against the region catalog and prints
// the outcome.
func renderPlan(settings *Settings, req *engine.DeploymentRequest) error {
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

	if jsonOutput {
		return printJSON(planView{
			Environment:   req.Environment,
			ResourceGroup: req.ResourceGroup,
			Template:      req.Template,
			Plan:          plan,
		})
	}

	fmt.Printf("Environment:    %s\n", req.Environment)
	fmt.Printf("Resource group: %s\n", req.ResourceGroup)
	fmt.Printf("Region:         %s\n", plan.Region)
	fmt.Printf("Template:       %s\n", req.Template.TemplatePath)
	fmt.Println("Tiers:")

	downgrades := make(map[string]region.Downgrade, len(plan.Downgrades))
	for _, d := range plan.Downgrades {
		downgrades[d.Service] = d
	}
	services := make([]string, 0, len(plan.EffectiveTiers))
	for svc := range plan.EffectiveTiers {
		services = append(services, svc)
	}
	sort.Strings(services)
	for _, svc := range services {
		if d, ok := downgrades[svc]; ok {
			fmt.Printf("  %-12s %s (downgraded from %s: %s)\n", svc, d.Effective, d.Requested, d.Reason)
			continue
		}
		fmt.Printf("  %-12s %s\n", svc, plan.EffectiveTiers[svc])
	}
	return nil
}
