package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openlander/openlander/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an OpenLander workspace",
		Long: `Initialize an OpenLander workspace with configuration, data directories,
the run database, and a starter manifest.

Existing files are left alone, so init is safe to re-run.`,
		Example: `  # Initialize in the current directory
  lander init

  # Initialize with a custom config path
  lander init --config /etc/openlander/lander.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().
				Str("config", configPath).
				Msg("Initializing workspace")

			ctx := cmd.Context()

			// Determine data directory
			dataDir := "./data"
			if configPath != "" {
				// If custom config path, use its directory
				dataDir = filepath.Join(filepath.Dir(configPath), "data")
			}

			fmt.Printf("Initializing OpenLander workspace in %s\n\n", dataDir)

			// Step 1: Create directory structure
			dirs := []string{
				dataDir,
				filepath.Join(dataDir, "audit"),
				filepath.Join(dataDir, "reports"),
				filepath.Join(dataDir, "plugins"),
				filepath.Join(dataDir, "policies"),
				filepath.Join(dataDir, "keys"),
			}

			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			// Step 2: Initialize the run database
			dbPath := filepath.Join(dataDir, "lander.db")
			store, err := stores.NewSQLiteStore(stores.Config{
				Path: dbPath,
			})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}

			fmt.Printf("✓ Initialized run database: %s\n", dbPath)

			// Step 3: Create default config file
			keyPath := filepath.Join(dataDir, "keys", "bastion-ed25519")
			defaultConfig := `# OpenLander Configuration

# Data directory
data_dir: %s

# Run database
database:
  path: %s

# Region capability catalog. Empty means the builtin catalog.
profiles:
  path: ""

# Per-environment parameter store (YAML).
#parameters:
#  path: ./parameters.yaml

# Extra Rego policies loaded over the builtins.
#policies:
#  paths:
#    - %s

# WASM lint plugins, one subdirectory per plugin.
plugins:
  dir: %s

# Platform CLI
azure:
  binary: az

# Bastion host for remote probes and artifact archival.
#bastion:
#  host: bastion.example.com
#  user: ops
#  key: %s
#
#archive:
#  enabled: true
#  remote_dir: /var/lib/lander/archive
`
			configContent := fmt.Sprintf(defaultConfig,
				dataDir, dbPath,
				filepath.Join(dataDir, "policies"),
				filepath.Join(dataDir, "plugins"),
				keyPath)

			if configPath == "" {
				configPath = DefaultConfigFile
			}

			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
					return fmt.Errorf("failed to write config file: %w", err)
				}
				fmt.Printf("✓ Created config file: %s\n", configPath)
			} else {
				fmt.Printf("✓ Config file already exists: %s\n", configPath)
			}

			// Step 4: Generate the bastion SSH key
			if _, err := os.Stat(keyPath); os.IsNotExist(err) {
				pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
				if err != nil {
					return fmt.Errorf("failed to generate keypair: %w", err)
				}

				privKeyBytes, err := sshpkg.MarshalPrivateKey(privKey, "")
				if err != nil {
					return fmt.Errorf("failed to marshal private key: %w", err)
				}

				privPEM := pem.EncodeToMemory(privKeyBytes)
				if err := os.WriteFile(keyPath, privPEM, 0600); err != nil {
					return fmt.Errorf("failed to write private key: %w", err)
				}

				sshPubKey, err := sshpkg.NewPublicKey(pubKey)
				if err != nil {
					return fmt.Errorf("failed to create SSH public key: %w", err)
				}

				pubKeyStr := sshpkg.MarshalAuthorizedKey(sshPubKey)
				if err := os.WriteFile(keyPath+".pub", pubKeyStr, 0644); err != nil {
					return fmt.Errorf("failed to write public key: %w", err)
				}

				fmt.Printf("✓ Generated SSH keypair: %s\n", keyPath)
			} else {
				fmt.Printf("✓ SSH keypair already exists: %s\n", keyPath)
			}

			// Step 5: Create a starter manifest
			manifestPath := "lander.cue"
			starterManifest := `manifest: {
	environment:   "dev-east"
	resourceGroup: "rg-dev-east"

	tiers: {
		functions: "consumption"
		storage:   "standard_lrs"
	}

	template: {
		dir:  "./infra"
		file: "main.bicep"
	}

	budget: {
		maxAttempts:  5
		maxWallClock: "30m"
	}
}
`
			if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
				if err := os.WriteFile(manifestPath, []byte(starterManifest), 0644); err != nil {
					return fmt.Errorf("failed to write starter manifest: %w", err)
				}
				fmt.Printf("✓ Created starter manifest: %s\n", manifestPath)
			} else {
				fmt.Printf("✓ Manifest already exists: %s\n", manifestPath)
			}

			// Done
			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Edit %s and point it at your template\n\n", manifestPath)
			fmt.Printf("  2. Validate the manifest:\n")
			fmt.Printf("     lander validate\n\n")
			fmt.Printf("  3. Deploy:\n")
			fmt.Printf("     lander deploy --yes\n\n")

			return nil
		},
	}

	return cmd
}
