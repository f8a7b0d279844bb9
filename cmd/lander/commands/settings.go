package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openlander/openlander/pkg/providers/azcli"
	"github.com/openlander/openlander/pkg/region"
	"github.com/openlander/openlander/pkg/stores"
	"github.com/openlander/openlander/pkg/transports/ssh"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the settings file looked up in the working
// directory when --config is not given.
const DefaultConfigFile = "lander.yaml"

// Settings is the CLI configuration loaded from lander.yaml.
type Settings struct {
	DataDir    string            `yaml:"data_dir"`
	Database   DatabaseSettings  `yaml:"database"`
	Profiles   ProfileSettings   `yaml:"profiles"`
	Parameters ParameterSettings `yaml:"parameters"`
	Policies   PolicySettings    `yaml:"policies"`
	Plugins    PluginSettings    `yaml:"plugins"`
	Azure      AzureSettings     `yaml:"azure"`
	Bastion    BastionSettings   `yaml:"bastion"`
	Archive    ArchiveSettings   `yaml:"archive"`
}

// DatabaseSettings locates the run database.
type DatabaseSettings struct {
	Path string `yaml:"path"`
}

// ProfileSettings locates the region profile catalog. An empty path
// selects the builtin catalog.
type ProfileSettings struct {
	Path string `yaml:"path"`
}

// ParameterSettings locates the external parameter store file.
type ParameterSettings struct {
	Path string `yaml:"path"`
}

// PolicySettings lists Rego policy files or directories loaded on top
// of the builtin policies.
type PolicySettings struct {
	Paths []string `yaml:"paths"`
}

// PluginSettings locates the lint plugin directory.
type PluginSettings struct {
	Dir string `yaml:"dir"`
}

// AzureSettings configures the platform CLI wrapper.
type AzureSettings struct {
	Binary string `yaml:"binary"`
	Config string `yaml:"config"`
}

// BastionSettings configures the SSH session to the bastion host used
// for remote probes and onboarding.
type BastionSettings struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Key        string `yaml:"key"`
	KnownHosts string `yaml:"known_hosts"`
	AgentPath  string `yaml:"agent_path"`
}

// ArchiveSettings configures off-host archival of run artifacts.
type ArchiveSettings struct {
	Enabled   bool   `yaml:"enabled"`
	RemoteDir string `yaml:"remote_dir"`
}

// loadSettings reads the settings file. A missing default file yields
// zero-value settings; a missing explicit --config file is an error.
func loadSettings() (*Settings, error) {
	path := configPath
	explicit := path != ""
	if path == "" {
		path = DefaultConfigFile
	}

	settings := &Settings{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			settings.applyDefaults()
			return settings, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	settings.applyDefaults()
	return settings, nil
}

func (s *Settings) applyDefaults() {
	if s.DataDir == "" {
		s.DataDir = "./data"
	}
	if s.Database.Path == "" {
		s.Database.Path = filepath.Join(s.DataDir, "lander.db")
	}
	if s.Plugins.Dir == "" {
		s.Plugins.Dir = filepath.Join(s.DataDir, "plugins")
	}
	if s.Bastion.Port == 0 {
		s.Bastion.Port = 22
	}
}

// AuditDir is where per-run audit chains are written.
func (s *Settings) AuditDir() string {
	return filepath.Join(s.DataDir, "audit")
}

// ReportDir is where per-run result reports are written.
func (s *Settings) ReportDir() string {
	return filepath.Join(s.DataDir, "reports")
}

// newPlatformClient builds the az CLI wrapper from settings.
func newPlatformClient(s *Settings) (*azcli.Client, error) {
	return azcli.NewClient(azcli.Options{
		Binary:     s.Azure.Binary,
		ConfigPath: s.Azure.Config,
		Logger:     log.Logger,
	})
}

// loadRegionSet loads the region catalog named by settings, falling
// back to the builtin catalog when the path is empty.
func loadRegionSet(s *Settings) (*region.Set, error) {
	return region.LoadSet(s.Profiles.Path)
}

// openStore opens and migrates the run database.
func openStore(ctx context.Context, s *Settings) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(s.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: s.Database.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// newBastionTransport opens an SSH session to the configured bastion.
// Returns (nil, nil) when no bastion is configured.
func newBastionTransport(s *Settings) (ssh.Transport, error) {
	if s.Bastion.Host == "" {
		return nil, nil
	}
	cfg := ssh.DefaultConfig(s.Bastion.Host, s.Bastion.User)
	cfg.Port = s.Bastion.Port
	if s.Bastion.Key != "" {
		cfg.PrivateKeyPath = s.Bastion.Key
	}
	if s.Bastion.KnownHosts != "" {
		cfg.KnownHostsPath = s.Bastion.KnownHosts
	}
	return ssh.NewSSHClient(cfg)
}
