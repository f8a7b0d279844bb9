package handlers

import (
	"context"
	"time"

	"github.com/openlander/openlander/pkg/probe_runner/protocol"
)

// PingHandler answers onboarding handshake pings.
type PingHandler struct {
	// Started is when the agent process came up.
	Started time.Time
}

// Handle echoes the token so the controller can verify the round-trip.
func (h *PingHandler) Handle(ctx context.Context, params *protocol.PingParams) (*protocol.PingResult, error) {
	return &protocol.PingResult{
		Token:    params.Token,
		Protocol: protocol.Version,
		Uptime:   time.Since(h.Started).Seconds(),
	}, nil
}
