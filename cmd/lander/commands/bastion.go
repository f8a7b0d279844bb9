package commands

import (
	"fmt"

	"github.com/openlander/openlander/pkg/bastion"
	"github.com/openlander/openlander/pkg/transports/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newBastionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bastion",
		Short: "Manage the bastion probe agent",
		Long: `Manage the probe-runner agent on the bastion host.

Probes marked "via: bastion" in the region catalog execute through this
agent, inside the target network.`,
	}

	cmd.AddCommand(newBastionOnboardCommand())

	return cmd
}

func newBastionOnboardCommand() *cobra.Command {
	var (
		host       string
		port       int
		user       string
		key        string
		knownHosts string
		binaryDir  string
		remotePath string
		insecure   bool
	)

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Install the probe agent on a bastion host",
		Long: `Install the probe-runner agent on a bastion host over SSH.

This command:
  - Detects the bastion's platform and architecture
  - Uploads the matching agent binary over SFTP
  - Verifies the installed file's checksum
  - Proves the agent runs with a handshake ping`,
		Example: `  # Onboard using the bastion settings from lander.yaml
  lander bastion onboard

  # Onboard an explicit host
  lander bastion onboard --host bastion.example.com --user ops --key ~/.ssh/id_ed25519`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}

			// Flags override the settings file.
			if host == "" {
				host = settings.Bastion.Host
			}
			if user == "" {
				user = settings.Bastion.User
			}
			if key == "" {
				key = settings.Bastion.Key
			}
			if knownHosts == "" {
				knownHosts = settings.Bastion.KnownHosts
			}
			if port == 0 {
				port = settings.Bastion.Port
			}
			if remotePath == "" {
				remotePath = settings.Bastion.AgentPath
			}
			if host == "" {
				return &ExitError{
					Code: ExitUsage,
					Err:  fmt.Errorf("no bastion host: pass --host or set bastion.host in %s", DefaultConfigFile),
				}
			}

			log.Info().
				Str("host", host).
				Str("user", user).
				Msg("Onboarding bastion")

			cfg := ssh.DefaultConfig(host, user)
			cfg.Port = port
			if key != "" {
				cfg.PrivateKeyPath = key
			}
			if knownHosts != "" {
				cfg.KnownHostsPath = knownHosts
			}
			if insecure {
				cfg.StrictHostKeyChecking = false
				cfg.KnownHostsPath = ""
			}

			transport, err := ssh.NewSSHClient(cfg)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}

			onboarder, err := bastion.NewOnboarder(transport, bastion.Config{
				BinaryDir:  binaryDir,
				RemotePath: remotePath,
			}, log.Logger)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}

			result, err := onboarder.Onboard(ctx)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}

			if jsonOutput {
				return printJSON(result)
			}
			fmt.Printf("✓ Installed %s on %s (%s/%s)\n", result.RemotePath, result.Host, result.Platform, result.Arch)
			fmt.Printf("✓ Checksum verified: %s\n", result.Checksum)
			fmt.Printf("✓ Agent responding: version %s\n", result.AgentVersion)
			fmt.Printf("\nAdd to %s to route probes through this bastion:\n\n", DefaultConfigFile)
			fmt.Printf("  bastion:\n")
			fmt.Printf("    host: %s\n", result.Host)
			fmt.Printf("    user: %s\n", user)
			fmt.Printf("    agent_path: %s\n", result.RemotePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "bastion host")
	cmd.Flags().IntVar(&port, "port", 0, "SSH port")
	cmd.Flags().StringVar(&user, "user", "", "SSH user")
	cmd.Flags().StringVar(&key, "key", "", "SSH private key path")
	cmd.Flags().StringVar(&knownHosts, "known-hosts", "", "known_hosts file path")
	cmd.Flags().StringVar(&binaryDir, "binary-dir", "./bin", "directory holding probe-runner binaries")
	cmd.Flags().StringVar(&remotePath, "remote-path", "", "install destination on the bastion")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "skip host key verification")

	return cmd
}
