package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openlander/openlander/pkg/audit"
	"github.com/spf13/cobra"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify run audit chains",
		Long: `Inspect the hash-chained audit log a deployment run wrote.

Each run appends its decisions to a JSONL file where every entry carries
the hash of its predecessor. Verification recomputes the chain and
detects tampering, truncation, and reordering.`,
	}

	cmd.AddCommand(newAuditShowCommand())
	cmd.AddCommand(newAuditVerifyCommand())
	cmd.AddCommand(newAuditExportCommand())

	return cmd
}

// auditFilePath resolves a run ID or file path argument to the audit
// chain file.
func auditFilePath(settings *Settings, arg string) string {
	if _, err := os.Stat(arg); err == nil {
		return arg
	}
	return filepath.Join(settings.AuditDir(), arg+".jsonl")
}

func newAuditShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a run's audit chain",
		Example: `  # Show the decisions of a run
  lander audit show 5f0c2e0a-...

  # Show an audit file directly
  lander audit show data/audit/5f0c2e0a-....jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			entries, err := audit.ReadEntries(auditFilePath(settings, args[0]))
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			if jsonOutput {
				return printJSON(entries)
			}
			for _, entry := range entries {
				fmt.Printf("%4d  %s  %-28s %s\n",
					entry.Sequence,
					entry.Timestamp.Local().Format(time.RFC3339),
					entry.Action,
					compactPayload(entry.Payload))
			}
			return nil
		},
	}

	return cmd
}

func newAuditVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <run-id>",
		Short: "Verify a run's audit chain",
		Example: `  # Recompute and check the hash chain
  lander audit verify 5f0c2e0a-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			entries, err := audit.ReadEntries(auditFilePath(settings, args[0]))
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			if !audit.Verify(entries) {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("audit chain broken for %s", args[0])}
			}
			fmt.Printf("✓ Audit chain intact: %d entries\n", len(entries))
			return nil
		},
	}

	return cmd
}

func newAuditExportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a run's audit chain as JSON",
		Example: `  # Export to stdout
  lander audit export 5f0c2e0a-...

  # Export to a file for an external verifier
  lander audit export 5f0c2e0a-... -o run-audit.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			entries, err := audit.ReadEntries(auditFilePath(settings, args[0]))
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to encode audit entries: %w", err)}
			}
			if output == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to write export: %w", err)}
			}
			fmt.Printf("✓ Exported %d entries: %s\n", len(entries), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the export to a file")

	return cmd
}

// compactPayload renders a payload on one line, truncated for display.
func compactPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	out := []byte(payload)
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err == nil {
		out = buf.Bytes()
	}
	const max = 96
	if len(out) > max {
		return string(out[:max]) + "..."
	}
	return string(out)
}
