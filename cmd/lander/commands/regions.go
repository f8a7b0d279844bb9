package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/openlander/openlander/pkg/region"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRegionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Inspect the region capability catalog",
		Long: `Inspect the region capability catalog deployments resolve against.

The catalog is loaded once at process start; a refreshed catalog is
adopted by restarting.`,
	}

	cmd.AddCommand(newRegionsListCommand())
	cmd.AddCommand(newRegionsShowCommand())

	return cmd
}

func newRegionsListCommand() *cobra.Command {
	var (
		refresh bool
		output  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known regions",
		Long: `List the regions in the capability catalog.

With --refresh, query the platform for live tier availability and render
an updated profiles file instead of listing the static catalog.`,
		Example: `  # List the static catalog
  lander regions list

  # Refresh capabilities from the platform and write a new catalog
  lander regions list --refresh -o profiles.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			set, err := loadRegionSet(settings)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to load region profiles: %w", err)}
			}

			if refresh {
				return refreshRegions(ctx, settings, set, output)
			}

			if jsonOutput {
				return printJSON(set)
			}
			for _, name := range set.Regions() {
				profile, _ := set.Profile(name)
				marker := " "
				if profile.FullySupported {
					marker = "*"
				}
				display := profile.DisplayName
				if display == "" {
					display = name
				}
				fmt.Printf("%s %-16s %-24s %d services\n", marker, name, display, len(profile.Services))
			}
			fmt.Println("\n* fully supported at every tier")
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "query the platform for live capabilities")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the refreshed catalog to a file")

	return cmd
}

// refreshRegions queries live tier availability and renders a profiles
// file the operator can review and adopt.
func refreshRegions(ctx context.Context, settings *Settings, set *region.Set, output string) error {
	azClient, err := newPlatformClient(settings)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	var cache region.CapabilityCache
	if store, err := openStore(ctx, settings); err != nil {
		log.Warn().Err(err).Msg("Capability cache unavailable, querying the platform directly")
	} else {
		defer store.Close()
		cache = store
	}

	log.Info().Msg("Discovering live region capabilities")
	snap, err := region.NewDiscoverer(azClient, cache, log.Logger).
		Discover(ctx, set, region.DiscoverOptions{Refresh: true})
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("discovery failed: %w", err)}
	}
	for key, msg := range snap.Errors {
		log.Warn().Str("target", key).Str("error", msg).Msg("Capability query failed")
	}

	rendered, err := region.RenderProfiles(set, snap)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	if output == "" {
		fmt.Print(string(rendered))
		return nil
	}
	if err := os.WriteFile(output, rendered, 0644); err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to write profiles: %w", err)}
	}
	fmt.Printf("✓ Wrote refreshed profiles: %s\n", output)
	fmt.Println("Review the diff and restart to adopt the new capability surface.")
	return nil
}

func newRegionsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <region>",
		Short: "Show one region's capability profile",
		Example: `  # Show what eastus2 offers
  lander regions show eastus2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			set, err := loadRegionSet(settings)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to load region profiles: %w", err)}
			}

			profile, ok := set.Profile(args[0])
			if !ok {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("unknown region %q", args[0])}
			}
			if jsonOutput {
				return printJSON(profile)
			}

			display := profile.DisplayName
			if display == "" {
				display = profile.Name
			}
			fmt.Printf("%s (%s)\n", display, profile.Name)
			fmt.Printf("Fully supported: %v\n\n", profile.FullySupported)

			services := make([]string, 0, len(profile.Services))
			for svc := range profile.Services {
				services = append(services, svc)
			}
			sort.Strings(services)
			for _, svc := range services {
				cap := profile.Services[svc]
				fmt.Printf("%s\n", svc)
				fmt.Printf("  tiers: %s\n", strings.Join(cap.Tiers, ", "))
				for _, probe := range cap.Probes {
					via := ""
					if probe.Via != "" {
						via = fmt.Sprintf(" via %s", probe.Via)
					}
					fmt.Printf("  probe: %s %s%s\n", probe.Type, probe.Target, via)
				}
			}
			return nil
		},
	}

	return cmd
}
