package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query past deployment runs",
		Long: `Query the run database for past deployments, their attempts, and the
fixes remediation applied.`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		environment string
		state       string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Example: `  # List the last 20 runs
  lander runs list

  # List failed production runs
  lander runs list --environment prod-east --state failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, settings)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to open run database: %w", err)}
			}
			defer store.Close()

			var envFilter, stateFilter *string
			if environment != "" {
				envFilter = &environment
			}
			if state != "" {
				stateFilter = &state
			}

			runs, err := store.ListRuns(ctx, envFilter, stateFilter, limit, 0)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to list runs: %w", err)}
			}

			if jsonOutput {
				return printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}
			fmt.Printf("%-36s  %-16s  %-12s  %-10s  %s\n", "RUN", "ENVIRONMENT", "REGION", "STATE", "STARTED")
			for _, run := range runs {
				fmt.Printf("%-36s  %-16s  %-12s  %-10s  %s\n",
					run.ID, run.Environment, run.Region, run.State,
					run.StartedAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "environment", "e", "", "filter by environment")
	cmd.Flags().StringVar(&state, "state", "", "filter by terminal state")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its attempts and fixes",
		Example: `  # Show a run's full history
  lander runs show 5f0c2e0a-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, settings)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to open run database: %w", err)}
			}
			defer store.Close()

			run, err := store.GetRun(ctx, runID)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to load run %s: %w", runID, err)}
			}
			attempts, err := store.ListAttemptsByRun(ctx, runID)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to load attempts: %w", err)}
			}
			fixes, err := store.ListFixesByRun(ctx, runID)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to load fixes: %w", err)}
			}

			if jsonOutput {
				return printJSON(struct {
					Run      interface{} `json:"run"`
					Attempts interface{} `json:"attempts"`
					Fixes    interface{} `json:"fixes,omitempty"`
				}{run, attempts, fixes})
			}

			fmt.Printf("Run %s\n", run.ID)
			fmt.Printf("  Environment:    %s\n", run.Environment)
			fmt.Printf("  Resource group: %s\n", run.ResourceGroup)
			fmt.Printf("  Region:         %s\n", run.Region)
			fmt.Printf("  Tier:           %s\n", run.Tier)
			fmt.Printf("  State:          %s\n", run.State)
			if run.FailureReason != nil {
				fmt.Printf("  Reason:         %s\n", *run.FailureReason)
			}
			if run.Error != nil {
				fmt.Printf("  Error:          %s\n", *run.Error)
			}
			fmt.Printf("  Started:        %s\n", run.StartedAt.Local().Format(time.RFC3339))
			if run.CompletedAt != nil {
				fmt.Printf("  Completed:      %s\n", run.CompletedAt.Local().Format(time.RFC3339))
			}

			if len(attempts) > 0 {
				fmt.Println("\nAttempts:")
				for _, a := range attempts {
					line := fmt.Sprintf("  #%d %s/%s %s", a.Seq, a.Region, a.Tier, a.Status)
					if a.ErrorKind != nil {
						line += fmt.Sprintf(" (%s)", *a.ErrorKind)
					}
					if a.BackoffMs > 0 {
						line += fmt.Sprintf(" backoff=%dms", a.BackoffMs)
					}
					fmt.Println(line)
				}
			}
			if len(fixes) > 0 {
				fmt.Println("\nFixes:")
				for _, f := range fixes {
					fmt.Printf("  attempt #%d rule=%s risk=%s %s:%d verification=%s\n",
						f.AttemptSeq, f.RuleID, f.Risk, f.Path, f.Line, f.Verification)
				}
			}
			return nil
		},
	}

	return cmd
}
