// Package main implements the probe-runner binary: a small agent
// installed on a bastion host that executes health probes received as
// JSON-over-stdio commands. The binary stays installed between runs;
// each invocation exits when its controller closes stdin or the TTL
// elapses.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/openlander/openlander/pkg/probe_runner/handlers"
	"github.com/openlander/openlander/pkg/probe_runner/protocol"
)

// version is overridden at build time.
var version = "1.0.0"

const ttl = 10 * time.Minute

type runner struct {
	encoder    *protocol.Encoder
	decoder    *protocol.Decoder
	probeCount int
	startTime  time.Time

	httpHandler *handlers.HTTPProbeHandler
	tcpHandler  *handlers.TCPProbeHandler
	dnsHandler  *handlers.DNSProbeHandler
	pingHandler *handlers.PingHandler
}

func main() {
	start := time.Now()
	r := &runner{
		encoder:     protocol.NewEncoder(os.Stdout),
		decoder:     protocol.NewDecoder(os.Stdin),
		startTime:   start,
		httpHandler: &handlers.HTTPProbeHandler{Client: &http.Client{}},
		tcpHandler:  &handlers.TCPProbeHandler{Dialer: &net.Dialer{}},
		dnsHandler:  &handlers.DNSProbeHandler{},
		pingHandler: &handlers.PingHandler{Started: start},
	}

	// Send READY message
	if err := r.sendReady(); err != nil {
		r.sendErrorAndExit("READY_FAILED", fmt.Sprintf("failed to send ready: %v", err), 1)
		return
	}

	// Main command loop with TTL timeout
	ctx, cancel := context.WithTimeout(context.Background(), ttl)
	defer cancel()

	exitCode := 0
	reason := "completed"

	for {
		select {
		case <-ctx.Done():
			reason = "ttl_expired"
			exitCode = 0
			goto exit
		default:
			// Try to read next command
			if err := r.processNextCommand(ctx); err != nil {
				if errors.Is(err, io.EOF) {
					reason = "stdin_closed"
					exitCode = 0
				} else {
					reason = "protocol_error"
					exitCode = 1
				}
				goto exit
			}
		}
	}

exit:
	r.exit(reason, exitCode)
}

func (r *runner) sendReady() error {
	ready := &protocol.ReadyMessage{
		Protocol: protocol.Version,
		Version:  version,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		PID:      os.Getpid(),
		Caps: map[string]bool{
			"probe.http": true,
			"probe.tcp":  true,
			"probe.dns":  true,
			"ping":       true,
		},
		Metadata: map[string]string{
			"ttl": ttl.String(),
		},
	}

	return r.encoder.EncodeReady(ready)
}

func (r *runner) processNextCommand(ctx context.Context) error {
	cmd, err := r.decoder.DecodeCommand()
	if err != nil {
		return err
	}

	r.probeCount++

	// Create command context with timeout
	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Timeout)*time.Second)
	defer cancel()

	r.encoder.EncodeEvent(&protocol.EventMessage{
		CommandID: cmd.ID,
		Level:     "debug",
		Message:   fmt.Sprintf("executing %s", cmd.Type),
	})

	start := time.Now()
	result, err := r.handleCommand(cmdCtx, cmd)
	duration := time.Since(start).Seconds()

	if err != nil {
		errMsg := &protocol.ErrorMessage{
			CommandID: cmd.ID,
			Code:      "BAD_PARAMS",
			Message:   err.Error(),
			Retryable: false,
		}
		return r.encoder.EncodeError(errMsg)
	}

	doneMsg := &protocol.DoneMessage{
		CommandID: cmd.ID,
		Result:    result,
		Duration:  duration,
	}
	return r.encoder.EncodeDone(doneMsg)
}

func (r *runner) handleCommand(ctx context.Context, cmd *protocol.CommandMessage) (json.RawMessage, error) {
	switch cmd.Type {
	case protocol.CommandTypeHTTPProbe:
		var params protocol.HTTPProbeParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err := r.httpHandler.Handle(ctx, &params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeTCPProbe:
		var params protocol.TCPProbeParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err := r.tcpHandler.Handle(ctx, &params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeDNSProbe:
		var params protocol.DNSProbeParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err := r.dnsHandler.Handle(ctx, &params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypePing:
		var params protocol.PingParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err := r.pingHandler.Handle(ctx, &params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	default:
		return nil, fmt.Errorf("unsupported command type: %s", cmd.Type)
	}
}

func (r *runner) exit(reason string, exitCode int) {
	exitMsg := &protocol.ExitMessage{
		Reason:      reason,
		ExitCode:    exitCode,
		ProbesTotal: r.probeCount,
	}

	r.encoder.EncodeExit(exitMsg)
	os.Exit(exitCode)
}

func (r *runner) sendErrorAndExit(code, message string, exitCode int) {
	errMsg := &protocol.ErrorMessage{
		Code:      code,
		Message:   message,
		Retryable: false,
	}
	r.encoder.EncodeError(errMsg)
	os.Exit(exitCode)
}
