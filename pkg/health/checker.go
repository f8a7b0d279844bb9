package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/openlander/openlander/pkg/region"
)

// maxProbeBodyBytes bounds how much of an HTTP probe response is drained.
const maxProbeBodyBytes = 64 * 1024

// RemoteProber executes probes that are only reachable from inside the
// target network, through the bastion's probe runner.
type RemoteProber interface {
	Probe(ctx context.Context, probe Probe) (passed bool, detail string, err error)
}

// ProbeResult is the outcome of one probe execution.
type ProbeResult struct {
	// Name identifies the probe.
	Name string `json:"name"`

	// Service is the probed service.
	Service string `json:"service"`

	// Passed is the probe verdict.
	Passed bool `json:"passed"`

	// Detail explains the verdict, such as an HTTP status or dial error.
	Detail string `json:"detail,omitempty"`

	// Elapsed is how long the probe took.
	Elapsed time.Duration `json:"elapsed"`
}

// Result aggregates a full health check.
type Result struct {
	// Pass is true when every probe passed.
	Pass bool `json:"pass"`

	// FailingProbes names every failed probe.
	FailingProbes []string `json:"failing_probes,omitempty"`

	// Probes holds the per-probe outcomes in execution order.
	Probes []ProbeResult `json:"probes"`
}

// Checker runs health probes sequentially and never short-circuits, so
// a single check reports everything that is unhealthy at once.
type Checker struct {
	httpClient *http.Client
	dialer     *net.Dialer
	lookupHost func(ctx context.Context, host string) ([]string, error)
	remote     RemoteProber
	logger     zerolog.Logger
}

// NewChecker creates a checker. remote may be nil when no probe in the
// profile routes through the bastion.
func NewChecker(remote RemoteProber, logger zerolog.Logger) *Checker {
	return &Checker{
		httpClient: &http.Client{},
		dialer:     &net.Dialer{},
		lookupHost: net.DefaultResolver.LookupHost,
		remote:     remote,
		logger:     logger.With().Str("component", "health").Logger(),
	}
}

// Check runs every probe to completion and aggregates the outcome. A
// cancelled context fails the remaining probes rather than skipping
// them, so the failure list stays exhaustive.
func (c *Checker) Check(ctx context.Context, probes []Probe) *Result {
	result := &Result{Pass: true}
	for _, probe := range probes {
		pr := c.runProbe(ctx, probe)
		result.Probes = append(result.Probes, pr)
		if !pr.Passed {
			result.Pass = false
			result.FailingProbes = append(result.FailingProbes, pr.Name)
		}

		event := c.logger.Info()
		if !pr.Passed {
			event = c.logger.Warn()
		}
		event.
			Str("probe", pr.Name).
			Bool("passed", pr.Passed).
			Dur("elapsed", pr.Elapsed).
			Str("detail", pr.Detail).
			Msg("Probe finished")
	}
	return result
}

func (c *Checker) runProbe(ctx context.Context, probe Probe) ProbeResult {
	start := time.Now()
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var passed bool
	var detail string
	var err error
	switch {
	case probe.Via == region.ProbeViaBastion:
		if c.remote == nil {
			detail = "no bastion prober configured"
		} else {
			passed, detail, err = c.remote.Probe(probeCtx, probe)
		}
	case probe.Type == region.ProbeTypeHTTP:
		passed, detail, err = c.probeHTTP(probeCtx, probe.Target)
	case probe.Type == region.ProbeTypeTCP:
		passed, detail, err = c.probeTCP(probeCtx, probe.Target)
	case probe.Type == region.ProbeTypeDNS:
		passed, detail, err = c.probeDNS(probeCtx, probe.Target)
	default:
		detail = fmt.Sprintf("unsupported probe type %s", probe.Type)
	}
	if err != nil {
		passed = false
		detail = err.Error()
	}

	return ProbeResult{
		Name:    probe.Name(),
		Service: probe.Service,
		Passed:  passed,
		Detail:  detail,
		Elapsed: time.Since(start),
	}
}

func (c *Checker) probeHTTP(ctx context.Context, target string) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, "", fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeBodyBytes))

	if resp.StatusCode >= 400 {
		return false, fmt.Sprintf("status %d", resp.StatusCode), nil
	}
	return true, fmt.Sprintf("status %d", resp.StatusCode), nil
}

func (c *Checker) probeTCP(ctx context.Context, target string) (bool, string, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return false, "", err
	}
	conn.Close()
	return true, "connected", nil
}

func (c *Checker) probeDNS(ctx context.Context, target string) (bool, string, error) {
	addrs, err := c.lookupHost(ctx, target)
	if err != nil {
		return false, "", err
	}
	if len(addrs) == 0 {
		return false, "no addresses", nil
	}
	return true, fmt.Sprintf("resolved %d addresses", len(addrs)), nil
}
