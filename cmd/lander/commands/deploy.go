package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openlander/openlander/pkg/archive"
	"github.com/openlander/openlander/pkg/bastion"
	"github.com/openlander/openlander/pkg/classify"
	"github.com/openlander/openlander/pkg/engine"
	"github.com/openlander/openlander/pkg/health"
	"github.com/openlander/openlander/pkg/policy"
	"github.com/openlander/openlander/pkg/providers/azcli"
	"github.com/openlander/openlander/pkg/region"
	"github.com/openlander/openlander/pkg/remedy"
	"github.com/openlander/openlander/pkg/transports/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDeployCommand() *cobra.Command {
	var (
		ov       manifestOverrides
		planOnly bool
		yes      bool
	)

	cmd := &cobra.Command{
		Use:   "deploy [manifest...]",
		Short: "Deploy an environment",
		Long: `Deploy an environment from its manifest and retry until it lands or the
budget runs out.

This command:
  - Parses and validates the CUE manifest
  - Resolves a region and effective tiers from the capability catalog
  - Checks deployment policy before the first attempt
  - Lints and validates the template
  - Applies the template, classifying and remediating failures
  - Runs post-apply health probes
  - Writes a hash-chained audit log for the run`,
		Example: `  # Deploy the manifest in the current directory
  lander deploy --yes

  # Deploy a specific manifest into a pinned region
  lander deploy envs/prod.cue --location eastus2 --yes

  # Resolve and print the plan without deploying
  lander deploy --plan-only`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Strs("sources", manifestSources(args)).
				Str("environment", ov.environment).
				Bool("plan_only", planOnly).
				Msg("Starting deployment")

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

			if planOnly {
				return renderPlan(settings, req)
			}

			if !spec.SkipLint {
				if err := lintTemplate(ctx, settings, req); err != nil {
					return err
				}
			}

			if !yes && !confirm(cmd, fmt.Sprintf("Deploy %s to %s?", req.Environment, req.ResourceGroup)) {
				fmt.Println("Deployment cancelled.")
				return nil
			}

			return runDeployment(ctx, settings, req)
		},
	}

	cmd.Flags().StringVarP(&ov.environment, "environment", "e", "", "override the manifest environment")
	cmd.Flags().StringVarP(&ov.resourceGroup, "resource-group", "g", "", "override the target resource group")
	cmd.Flags().StringVarP(&ov.location, "location", "l", "", "pin region resolution to one region")
	cmd.Flags().BoolVar(&planOnly, "plan-only", false, "resolve and print the plan without deploying")
	cmd.Flags().BoolVar(&ov.skipHealth, "skip-health-checks", false, "skip post-apply health probes")
	cmd.Flags().BoolVar(&ov.skipLint, "skip-lint", false, "skip lint and template validation")
	cmd.Flags().IntVar(&ov.maxAttempts, "max-attempts", 0, "override the attempt budget")
	cmd.Flags().StringVar(&ov.budget, "budget", "", "override the wall-clock budget (e.g. 30m)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

// runDeployment wires the deployment machine from settings and executes
// the run.
func runDeployment(ctx context.Context, settings *Settings, req *engine.DeploymentRequest) error {
	set, err := loadRegionSet(settings)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to load region profiles: %w", err)}
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

	classifier, err := classify.NewClassifier()
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to load failure signatures: %w", err)}
	}

	workspace, err := remedy.NewDirWorkspace(req.Template.WorkspaceDir)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	remediator := remedy.NewRemediator(
		remedy.NewRegistry(),
		azcli.NewFixValidator(azClient, req.Template.WorkspaceDir, req.ResourceGroup),
		workspace,
		log.Logger,
	)

	policyEngine, err := policy.NewEngine(log.Logger)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to load policies: %w", err)}
	}
	if len(settings.Policies.Paths) > 0 {
		if err := policyEngine.LoadPolicies(ctx, settings.Policies.Paths); err != nil {
			return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to load policies: %w", err)}
		}
	}

	transport, err := newBastionTransport(settings)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to configure bastion transport: %w", err)}
	}
	var remote health.RemoteProber
	if transport != nil {
		// Bastion-routed probes need a live session for the whole run.
		// An unreachable bastion degrades those probes, not the deploy.
		if err := transport.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("Bastion unreachable, bastion-routed probes will fail")
		} else {
			defer transport.Disconnect()
			prober := bastion.NewProber(transport, settings.Bastion.AgentPath)
			defer prober.Close()
			remote = prober
		}
	}

	// The JSONL audit chain is the artifact of record; a broken run
	// database degrades queries, not deployments.
	var store engine.RunStore
	if sqlStore, err := openStore(ctx, settings); err != nil {
		log.Warn().Err(err).Msg("Run database unavailable, continuing without it")
	} else {
		defer sqlStore.Close()
		store = sqlStore
	}

	machine, err := engine.NewMachine(engine.MachineConfig{
		Resolver:   region.NewResolver(set),
		Regions:    set,
		Classifier: classifier,
		Remediator: remediator,
		Validator:  toolchain.Validator,
		Applier:    toolchain.Applier,
		Health:     health.NewChecker(remote, log.Logger),
		Policy:     policy.NewGate(policyEngine, log.Logger),
		Store:      store,
		AuditDir:   settings.AuditDir(),
		Logger:     log.Logger,
	})
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	result, runErr := machine.Execute(ctx, req)

	reportPath := writeRunReport(settings, result)
	printRunResult(result)
	archiveRun(ctx, settings, transport, result, reportPath)

	if runErr != nil {
		return &ExitError{Code: runExitCode(runErr), Err: runErr}
	}
	return nil
}

// writeRunReport persists the run result under the report directory.
// Report failures are warnings; the run outcome stands either way.
func writeRunReport(settings *Settings, result *engine.RunResult) string {
	if result == nil {
		return ""
	}
	if err := os.MkdirAll(settings.ReportDir(), 0755); err != nil {
		log.Warn().Err(err).Msg("Failed to create report directory")
		return ""
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode run report")
		return ""
	}
	path := filepath.Join(settings.ReportDir(), result.RunID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Warn().Err(err).Msg("Failed to write run report")
		return ""
	}
	return path
}

func printRunResult(result *engine.RunResult) {
	if result == nil {
		return
	}
	if jsonOutput {
		if err := printJSON(result); err != nil {
			log.Warn().Err(err).Msg("Failed to print run result")
		}
		return
	}

	fmt.Printf("\nRun %s: %s\n", result.RunID, result.State)
	if result.Plan != nil {
		fmt.Printf("  Region:   %s\n", result.Plan.Region)
		for _, d := range result.Plan.Downgrades {
			fmt.Printf("  Downgrade: %s %s -> %s (%s)\n", d.Service, d.Requested, d.Effective, d.Reason)
		}
	}
	fmt.Printf("  Attempts: %d\n", len(result.Attempts))
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
	if result.FailureReason != "" {
		fmt.Printf("  Reason:   %s\n", result.FailureReason)
	}
	if result.Err != nil {
		fmt.Printf("  Error:    %s\n", result.Err.Message)
	}
	if result.Health != nil && !result.Health.Pass {
		fmt.Printf("  Failing probes: %s\n", strings.Join(result.Health.FailingProbes, ", "))
	}
}

// archiveRun copies the run's audit chain and report to the bastion.
// Archival is advisory and never changes the run outcome. The context
// is detached so a cancelled run still archives its artifacts.
func archiveRun(ctx context.Context, settings *Settings, transport ssh.Transport, result *engine.RunResult, reportPath string) {
	if result == nil || !settings.Archive.Enabled || transport == nil {
		return
	}

	var paths []string
	auditPath := filepath.Join(settings.AuditDir(), result.RunID+".jsonl")
	if _, err := os.Stat(auditPath); err == nil {
		paths = append(paths, auditPath)
	}
	if reportPath != "" {
		paths = append(paths, reportPath)
	}
	if len(paths) == 0 {
		return
	}

	archiver, err := archive.NewArchiver(transport, settings.Archive.RemoteDir, log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to configure run archival")
		return
	}
	if _, err := archiver.ArchiveRun(context.WithoutCancel(ctx), result.RunID, paths...); err != nil {
		log.Warn().Err(err).Str("run_id", result.RunID).Msg("Failed to archive run artifacts")
	}
}

// confirm prompts on stdout and reads a y/N answer.
func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
