package handlers

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/openlander/openlander/pkg/probe_runner/protocol"
)

// TCPProbeHandler performs TCP dial probes.
type TCPProbeHandler struct {
	Dialer *net.Dialer
}

// Handle executes a TCP dial probe.
func (h *TCPProbeHandler) Handle(ctx context.Context, params *protocol.TCPProbeParams) (*protocol.ProbeResult, error) {
	if params.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	dialer := h.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	start := time.Now()

	conn, err := dialer.DialContext(ctx, "tcp", params.Address)
	if err != nil {
		return &protocol.ProbeResult{
			Passed:   false,
			Detail:   err.Error(),
			Duration: time.Since(start).Seconds(),
		}, nil
	}
	conn.Close()

	return &protocol.ProbeResult{
		Passed:   true,
		Detail:   "connected",
		Duration: time.Since(start).Seconds(),
	}, nil
}
