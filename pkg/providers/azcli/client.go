package azcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/ini.v1"
)

const (
	// DefaultBinary is the platform CLI executable name.
	DefaultBinary = "az"

	// DefaultApplyTimeout bounds one deployment create call.
	DefaultApplyTimeout = 15 * time.Minute

	// DefaultValidateTimeout bounds one validation or what-if call.
	DefaultValidateTimeout = 2 * time.Minute

	// DefaultDiscoverTimeout bounds one capability query.
	DefaultDiscoverTimeout = time.Minute
)

// Options configures a Client. The zero value is usable: the binary,
// timeouts, and config path all have defaults.
type Options struct {
	// Binary is the CLI executable. Defaults to "az".
	Binary string

	// ConfigPath is the CLI config file holding [defaults] fallbacks.
	// Defaults to ~/.azure/config. A missing file is not an error.
	ConfigPath string

	// ApplyTimeout bounds each deployment create call.
	ApplyTimeout time.Duration

	// ValidateTimeout bounds each validate and what-if call.
	ValidateTimeout time.Duration

	// DiscoverTimeout bounds each capability query.
	DiscoverTimeout time.Duration

	// Logger is the base logger.
	Logger zerolog.Logger
}

// Defaults are the fallback values read from the CLI config file's
// [defaults] section.
type Defaults struct {
	// ResourceGroup is the default resource group ("group" key).
	ResourceGroup string

	// Location is the default region ("location" key).
	Location string
}

// Client shells out to the platform CLI for deployments, validation,
// what-if drift checks, and capability discovery. It implements
// engine.TemplateApplier, engine.TemplateValidator, and
// region.CapabilityLister.
type Client struct {
	binary          string
	configPath      string
	applyTimeout    time.Duration
	validateTimeout time.Duration
	discoverTimeout time.Duration
	defaults        Defaults
	runner          commandRunner
	logger          zerolog.Logger
}

// NewClient creates a client and reads the CLI config defaults. The
// CLI binary itself is not probed; a missing binary surfaces on the
// first call.
func NewClient(opts Options) (*Client, error) {
	binary := opts.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".azure", "config")
		}
	}

	c := &Client{
		binary:          binary,
		configPath:      configPath,
		applyTimeout:    opts.ApplyTimeout,
		validateTimeout: opts.ValidateTimeout,
		discoverTimeout: opts.DiscoverTimeout,
		runner:          execRunner{},
		logger:          opts.Logger.With().Str("component", "azcli").Logger(),
	}
	if c.applyTimeout <= 0 {
		c.applyTimeout = DefaultApplyTimeout
	}
	if c.validateTimeout <= 0 {
		c.validateTimeout = DefaultValidateTimeout
	}
	if c.discoverTimeout <= 0 {
		c.discoverTimeout = DefaultDiscoverTimeout
	}

	defaults, err := loadDefaults(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CLI config %s: %w", configPath, err)
	}
	c.defaults = defaults

	return c, nil
}

// Defaults returns the fallbacks read from the CLI config file.
func (c *Client) Defaults() Defaults {
	return c.defaults
}

// loadDefaults reads the [defaults] section of the CLI config file.
// A missing file yields empty defaults.
func loadDefaults(path string) (Defaults, error) {
	if path == "" {
		return Defaults{}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Defaults{}, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return Defaults{}, err
	}

	section := cfg.Section("defaults")
	return Defaults{
		ResourceGroup: section.Key("group").String(),
		Location:      section.Key("location").String(),
	}, nil
}

// commandRunner abstracts process execution so tests can stub the CLI.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// cliResult is one finished CLI invocation. A non-zero exit code means
// the CLI ran and reported failure; it is not a transport error.
type cliResult struct {
	stdout   string
	stderr   string
	exitCode int
}

// diagnostic joins stderr and stdout into the opaque text handed to
// the classifier. Stderr leads because the CLI writes its error JSON
// there.
func (r *cliResult) diagnostic() string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(r.stderr); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(r.stdout); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// invoke runs one CLI call under the given timeout. The returned error
// is non-nil only when the call could not run at all: binary missing,
// timeout, or context cancellation. A CLI-reported failure comes back
// as a result with a non-zero exit code.
func (c *Client) invoke(ctx context.Context, timeout time.Duration, args ...string) (*cliResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, err := c.runner.Run(callCtx, c.binary, args...)
	res := &cliResult{stdout: string(stdout), stderr: string(stderr)}

	c.logger.Debug().
		Str("call", argSummary(args)).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("CLI call finished")

	if err == nil {
		return res, nil
	}

	// A killed process also reports an exit error, so the context
	// check has to come first.
	if callCtx.Err() != nil {
		return nil, fmt.Errorf("%s %s did not finish in %s: %w", c.binary, argSummary(args), timeout, callCtx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.exitCode = exitErr.ExitCode()
		return res, nil
	}

	return nil, fmt.Errorf("failed to run %s %s: %w", c.binary, argSummary(args), err)
}

// argSummary names a call by its leading subcommand words.
func argSummary(args []string) string {
	n := len(args)
	if n > 3 {
		n = 3
	}
	return strings.Join(args[:n], " ")
}
