package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lander",
		Short: "OpenLander - Deployment Orchestration Engine",
		Long: `OpenLander deploys declarative infrastructure templates and keeps retrying
until the deployment lands or the budget runs out.

Features:
  - Capability-aware region resolution with tier downgrades
  - Failure classification over raw platform diagnostics
  - Risk-gated autonomous remediation
  - Exponential backoff and budget-bounded retries
  - Hash-chained audit log per run
  - Post-apply health probes, directly or via a bastion agent`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			applyGlobalFlags()
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newRegionsCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newAuditCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newBastionCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}

func applyGlobalFlags() {
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// printJSON renders v to stdout for --json consumers.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
