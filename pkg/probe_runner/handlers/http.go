// Package handlers implements probe handlers for the probe-runner
// agent. A probe that reaches its target and finds it unhealthy is a
// result with Passed false; a handler error means the command itself
// was unusable.
package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openlander/openlander/pkg/probe_runner/protocol"
)

// maxBodyBytes bounds how much of a probe response body is drained.
const maxBodyBytes = 64 * 1024

// HTTPProbeHandler performs HTTP GET probes.
type HTTPProbeHandler struct {
	Client *http.Client
}

// Handle executes an HTTP probe.
func (h *HTTPProbeHandler) Handle(ctx context.Context, params *protocol.HTTPProbeParams) (*protocol.ProbeResult, error) {
	if params.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid probe url: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &protocol.ProbeResult{
			Passed:   false,
			Detail:   err.Error(),
			Duration: time.Since(start).Seconds(),
		}, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	result := &protocol.ProbeResult{
		Detail:   fmt.Sprintf("status %d", resp.StatusCode),
		Duration: time.Since(start).Seconds(),
	}
	if params.ExpectStatus > 0 {
		result.Passed = resp.StatusCode == params.ExpectStatus
		if !result.Passed {
			result.Detail = fmt.Sprintf("status %d, want %d", resp.StatusCode, params.ExpectStatus)
		}
	} else {
		result.Passed = resp.StatusCode < 400
	}

	return result, nil
}
