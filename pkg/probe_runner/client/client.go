// Package client drives a probe-runner agent over its stdio streams and
// adapts it to the health checker's remote prober interface.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlander/openlander/pkg/health"
	"github.com/openlander/openlander/pkg/probe_runner/protocol"
	"github.com/openlander/openlander/pkg/region"
)

// DefaultStartupTimeout bounds the wait for the agent's READY message.
const DefaultStartupTimeout = 10 * time.Second

// Transport starts the agent process on the bastion host and exposes
// its stdio streams. The SSH transport provides this through
// StartCommand.
type Transport interface {
	Execute(ctx context.Context, command string) (stdin io.WriteCloser, stdout io.Reader, err error)
}

// Client manages one conversation with a running probe-runner agent.
type Client struct {
	encoder *protocol.Encoder
	decoder *protocol.Decoder
	stdin   io.WriteCloser
	ready   *protocol.ReadyMessage
	mu      sync.Mutex
	closed  bool
}

// NewClient wraps the stdio streams of a started agent process.
func NewClient(stdin io.WriteCloser, stdout io.Reader) *Client {
	return &Client{
		encoder: protocol.NewEncoder(stdin),
		decoder: protocol.NewDecoder(stdout),
		stdin:   stdin,
	}
}

// Handshake waits for the agent's READY message and verifies the
// protocol version, refusing a mismatched peer.
func (c *Client) Handshake(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	readyCh := make(chan *protocol.ReadyMessage, 1)
	errCh := make(chan error, 1)

	go func() {
		msg, err := c.decoder.Decode()
		if err != nil {
			errCh <- err
			return
		}
		if msg.Type != protocol.MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready protocol.ReadyMessage
		if err := protocol.ParseParams(msg.Data, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	select {
	case <-readyCtx.Done():
		return fmt.Errorf("timeout waiting for READY message")
	case err := <-errCh:
		return fmt.Errorf("failed to receive READY: %w", err)
	case ready := <-readyCh:
		if ready.Protocol != protocol.Version {
			return fmt.Errorf("protocol version mismatch: agent speaks %q, controller speaks %q",
				ready.Protocol, protocol.Version)
		}
		c.mu.Lock()
		c.ready = ready
		c.mu.Unlock()
		return nil
	}
}

// Ready returns the READY message received during the handshake.
func (c *Client) Ready() *protocol.ReadyMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Execute sends a command to the agent and waits for completion. The
// agent bounds the command's duration through the timeout the command
// carries.
func (c *Client) Execute(ctx context.Context, cmd *protocol.CommandMessage) (*protocol.DoneMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is closed")
	}
	c.mu.Unlock()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}

	if err := c.encoder.Encode(protocol.MessageTypeCommand, cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	for {
		msg, err := c.decoder.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		switch msg.Type {
		case protocol.MessageTypeEvent:
			// Progress events carry no verdict; skip them.

		case protocol.MessageTypeDone:
			var done protocol.DoneMessage
			if err := protocol.ParseParams(msg.Data, &done); err != nil {
				return nil, fmt.Errorf("failed to parse done: %w", err)
			}
			if done.CommandID != cmd.ID {
				return nil, fmt.Errorf("command ID mismatch: expected %s, got %s", cmd.ID, done.CommandID)
			}
			return &done, nil

		case protocol.MessageTypeError:
			var errMsg protocol.ErrorMessage
			if err := protocol.ParseParams(msg.Data, &errMsg); err != nil {
				return nil, fmt.Errorf("failed to parse error: %w", err)
			}
			if errMsg.CommandID != "" && errMsg.CommandID != cmd.ID {
				return nil, fmt.Errorf("command ID mismatch: expected %s, got %s", cmd.ID, errMsg.CommandID)
			}
			return nil, fmt.Errorf("command failed: %s - %s", errMsg.Code, errMsg.Message)

		case protocol.MessageTypeExit:
			return nil, fmt.Errorf("agent exited unexpectedly")

		default:
			return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
		}
	}
}

// Ping sends a handshake token and verifies the agent echoes it back.
func (c *Client) Ping(ctx context.Context) error {
	token := uuid.NewString()

	params, err := json.Marshal(protocol.PingParams{Token: token})
	if err != nil {
		return fmt.Errorf("failed to marshal ping params: %w", err)
	}

	done, err := c.Execute(ctx, &protocol.CommandMessage{
		ID:      uuid.NewString(),
		Type:    protocol.CommandTypePing,
		Timeout: int(DefaultStartupTimeout / time.Second),
		Params:  params,
	})
	if err != nil {
		return err
	}

	var result protocol.PingResult
	if err := protocol.ParseParams(done.Result, &result); err != nil {
		return fmt.Errorf("failed to parse ping result: %w", err)
	}
	if result.Token != token {
		return fmt.Errorf("ping token mismatch: sent %s, got %s", token, result.Token)
	}
	return nil
}

// Close closes the agent's stdin, which tells it to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.stdin != nil {
		return c.stdin.Close()
	}
	return nil
}

// Prober routes health probes through a probe-runner agent. It starts
// the agent lazily on the first probe and keeps the conversation open
// across probes; after a broken exchange the agent is restarted on the
// next probe.
type Prober struct {
	transport      Transport
	command        string
	startupTimeout time.Duration

	mu     sync.Mutex
	client *Client
}

// NewProber creates a prober that launches the agent with the given
// remote command line.
func NewProber(transport Transport, command string) *Prober {
	return &Prober{
		transport:      transport,
		command:        command,
		startupTimeout: DefaultStartupTimeout,
	}
}

// Probe implements health.RemoteProber.
func (p *Prober) Probe(ctx context.Context, probe health.Probe) (bool, string, error) {
	cmd, err := commandForProbe(probe)
	if err != nil {
		return false, "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		stdin, stdout, err := p.transport.Execute(ctx, p.command)
		if err != nil {
			return false, "", fmt.Errorf("failed to start agent: %w", err)
		}
		client := NewClient(stdin, stdout)
		if err := client.Handshake(ctx, p.startupTimeout); err != nil {
			client.Close()
			return false, "", fmt.Errorf("agent handshake failed: %w", err)
		}
		p.client = client
	}

	done, err := p.client.Execute(ctx, cmd)
	if err != nil {
		// Agent state is unknown after a broken exchange.
		p.client.Close()
		p.client = nil
		return false, "", err
	}

	var result protocol.ProbeResult
	if err := protocol.ParseParams(done.Result, &result); err != nil {
		return false, "", fmt.Errorf("failed to parse probe result: %w", err)
	}
	return result.Passed, result.Detail, nil
}

// Close shuts down the agent conversation if one is open.
func (p *Prober) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// commandForProbe translates a health probe into an agent command.
func commandForProbe(probe health.Probe) (*protocol.CommandMessage, error) {
	var cmdType protocol.CommandType
	var params interface{}

	switch probe.Type {
	case region.ProbeTypeHTTP:
		cmdType = protocol.CommandTypeHTTPProbe
		params = protocol.HTTPProbeParams{URL: probe.Target}
	case region.ProbeTypeTCP:
		cmdType = protocol.CommandTypeTCPProbe
		params = protocol.TCPProbeParams{Address: probe.Target}
	case region.ProbeTypeDNS:
		cmdType = protocol.CommandTypeDNSProbe
		params = protocol.DNSProbeParams{Host: probe.Target}
	default:
		return nil, fmt.Errorf("probe type %s cannot run on the bastion", probe.Type)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal probe params: %w", err)
	}

	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = health.DefaultProbeTimeout
	}
	seconds := int(timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	return &protocol.CommandMessage{
		ID:      uuid.NewString(),
		Type:    cmdType,
		Timeout: seconds,
		Params:  raw,
	}, nil
}
