// Package bastion installs the probe-runner agent on a bastion host and
// assembles the remote prober the health checker routes through. The
// agent binary is uploaded over SFTP, verified by checksum, and proven
// alive with a handshake ping before onboarding is declared done.
package bastion

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openlander/openlander/pkg/probe_runner/client"
	"github.com/openlander/openlander/pkg/transports/ssh"
)

// DefaultRemotePath is where the agent binary is installed.
const DefaultRemotePath = "/usr/local/bin/probe-runner"

// DefaultStartupTimeout bounds the verification handshake.
const DefaultStartupTimeout = 15 * time.Second

// Config locates the agent binaries and the install destination.
type Config struct {
	// BinaryDir holds prebuilt agent binaries, one per platform, named
	// probe-runner-<os>-<arch>.
	BinaryDir string

	// RemotePath is the install destination on the bastion.
	RemotePath string

	// StartupTimeout bounds the wait for the agent's READY handshake.
	StartupTimeout time.Duration
}

// Result describes a completed onboarding.
type Result struct {
	Host         string    `json:"host"`
	RemotePath   string    `json:"remote_path"`
	Platform     string    `json:"platform"`
	Arch         string    `json:"arch"`
	BinaryPath   string    `json:"binary_path"`
	Checksum     string    `json:"checksum"`
	AgentVersion string    `json:"agent_version"`
	OnboardedAt  time.Time `json:"onboarded_at"`
}

// Onboarder installs and verifies the probe-runner agent.
type Onboarder struct {
	transport ssh.Transport
	config    Config
	logger    zerolog.Logger
}

// NewOnboarder creates an onboarder over a configured SSH transport.
func NewOnboarder(transport ssh.Transport, config Config, logger zerolog.Logger) (*Onboarder, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if config.BinaryDir == "" {
		return nil, fmt.Errorf("binary directory is required")
	}
	if config.RemotePath == "" {
		config.RemotePath = DefaultRemotePath
	}
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = DefaultStartupTimeout
	}

	return &Onboarder{
		transport: transport,
		config:    config,
		logger:    logger.With().Str("component", "bastion").Logger(),
	}, nil
}

// Onboard connects to the bastion, uploads the platform-matched agent
// binary, verifies the installed file's checksum against the local
// digest, and proves the agent runs with a handshake ping.
func (o *Onboarder) Onboard(ctx context.Context) (*Result, error) {
	if err := o.transport.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to bastion: %w", err)
	}
	defer o.transport.Disconnect()

	info := o.transport.GetConnectionInfo()
	o.logger.Info().
		Str("host", info.Host).
		Str("user", info.User).
		Msg("Connected to bastion")

	targetOS, targetArch, err := o.detectPlatform(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to detect bastion platform: %w", err)
	}

	o.logger.Info().
		Str("os", targetOS).
		Str("arch", targetArch).
		Msg("Detected bastion platform")

	binaryPath, err := o.selectBinary(targetOS, targetArch)
	if err != nil {
		return nil, err
	}

	upload, err := o.transport.UploadFile(ctx, binaryPath, o.config.RemotePath, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to upload agent binary: %w", err)
	}

	o.logger.Info().
		Str("binary", binaryPath).
		Str("remote_path", o.config.RemotePath).
		Int64("bytes", upload.BytesTransferred).
		Msg("Agent binary uploaded")

	remoteChecksum, err := o.transport.ComputeChecksum(ctx, o.config.RemotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to verify installed binary: %w", err)
	}
	if remoteChecksum != upload.Checksum {
		return nil, fmt.Errorf("checksum mismatch after upload: local %s, remote %s",
			upload.Checksum, remoteChecksum)
	}

	agentVersion, err := o.verifyAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent verification failed: %w", err)
	}

	o.logger.Info().
		Str("agent_version", agentVersion).
		Msg("Agent handshake verified")

	return &Result{
		Host:         info.Host,
		RemotePath:   o.config.RemotePath,
		Platform:     targetOS,
		Arch:         targetArch,
		BinaryPath:   binaryPath,
		Checksum:     upload.Checksum,
		AgentVersion: agentVersion,
		OnboardedAt:  time.Now().UTC(),
	}, nil
}

// detectPlatform identifies the bastion's OS and architecture.
func (o *Onboarder) detectPlatform(ctx context.Context) (string, string, error) {
	osOutput, _, err := o.transport.ExecuteCommand(ctx, "uname -s")
	if err != nil {
		return "", "", fmt.Errorf("failed to detect OS: %w", err)
	}

	archOutput, _, err := o.transport.ExecuteCommand(ctx, "uname -m")
	if err != nil {
		return "", "", fmt.Errorf("failed to detect architecture: %w", err)
	}

	targetOS := strings.ToLower(strings.TrimSpace(osOutput))
	targetArch := normalizeArchitecture(strings.TrimSpace(archOutput))

	return targetOS, targetArch, nil
}

// normalizeArchitecture converts uname output to Go's GOARCH names.
func normalizeArchitecture(arch string) string {
	switch arch {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	case "i386", "i686", "x86":
		return "386"
	case "armv7l", "armv7":
		return "arm"
	default:
		return arch
	}
}

// selectBinary locates the prebuilt agent binary for the platform.
func (o *Onboarder) selectBinary(targetOS, targetArch string) (string, error) {
	binaryName := fmt.Sprintf("probe-runner-%s-%s", targetOS, targetArch)
	binaryPath := filepath.Join(o.config.BinaryDir, binaryName)

	if _, err := os.Stat(binaryPath); err != nil {
		return "", fmt.Errorf("agent binary not found for %s/%s at %s; build it with: GOOS=%s GOARCH=%s go build -o %s ./cmd/probe-runner",
			targetOS, targetArch, binaryPath, targetOS, targetArch, binaryPath)
	}

	return binaryPath, nil
}

// verifyAgent starts the installed agent once and performs the
// handshake ping, returning the agent's reported version.
func (o *Onboarder) verifyAgent(ctx context.Context) (string, error) {
	stdin, stdout, err := agentTransport{o.transport}.Execute(ctx, o.config.RemotePath)
	if err != nil {
		return "", fmt.Errorf("failed to start agent: %w", err)
	}

	agent := client.NewClient(stdin, stdout)
	defer agent.Close()

	if err := agent.Handshake(ctx, o.config.StartupTimeout); err != nil {
		return "", err
	}
	if err := agent.Ping(ctx); err != nil {
		return "", err
	}

	return agent.Ready().Version, nil
}

// NewProber returns a health prober that drives the installed agent
// over the given transport. remotePath empty means the default install
// location.
func NewProber(transport ssh.Transport, remotePath string) *client.Prober {
	if remotePath == "" {
		remotePath = DefaultRemotePath
	}
	return client.NewProber(agentTransport{transport}, remotePath)
}

// agentTransport adapts the SSH transport to the probe client's
// transport interface.
type agentTransport struct {
	transport ssh.Transport
}

func (a agentTransport) Execute(ctx context.Context, command string) (io.WriteCloser, io.Reader, error) {
	proc, err := a.transport.StartCommand(ctx, command)
	if err != nil {
		return nil, nil, err
	}
	return proc.Stdin, proc.Stdout, nil
}
