package handlers

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/openlander/openlander/pkg/probe_runner/protocol"
)

// DNSProbeHandler performs DNS resolution probes.
type DNSProbeHandler struct {
	// LookupHost resolves a host name. net.DefaultResolver when nil.
	LookupHost func(ctx context.Context, host string) ([]string, error)
}

// Handle executes a DNS resolution probe.
func (h *DNSProbeHandler) Handle(ctx context.Context, params *protocol.DNSProbeParams) (*protocol.ProbeResult, error) {
	if params.Host == "" {
		return nil, fmt.Errorf("host is required")
	}

	lookup := h.LookupHost
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}

	start := time.Now()

	addrs, err := lookup(ctx, params.Host)
	if err != nil {
		return &protocol.ProbeResult{
			Passed:   false,
			Detail:   err.Error(),
			Duration: time.Since(start).Seconds(),
		}, nil
	}
	if len(addrs) == 0 {
		return &protocol.ProbeResult{
			Passed:   false,
			Detail:   "no addresses",
			Duration: time.Since(start).Seconds(),
		}, nil
	}

	return &protocol.ProbeResult{
		Passed:   true,
		Detail:   fmt.Sprintf("resolved %d addresses", len(addrs)),
		Duration: time.Since(start).Seconds(),
	}, nil
}
