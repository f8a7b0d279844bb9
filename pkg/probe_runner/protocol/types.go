// Package protocol defines the JSON-over-stdio protocol spoken between
// the lander controller and the probe-runner agent on a bastion host.
// Messages are newline-delimited JSON, capped at MaxMessageBytes, and
// the READY handshake carries the protocol version so both sides can
// refuse a mismatched peer.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the protocol version announced in the READY handshake.
const Version = "1"

// MaxMessageBytes caps a single encoded message in either direction.
const MaxMessageBytes = 256 * 1024

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeReady indicates the agent is ready to receive commands
	MessageTypeReady MessageType = "READY"
	// MessageTypeCommand indicates a command from the controller
	MessageTypeCommand MessageType = "CMD"
	// MessageTypeEvent indicates a progress event from the agent
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeDone indicates successful completion
	MessageTypeDone MessageType = "DONE"
	// MessageTypeError indicates an error occurred
	MessageTypeError MessageType = "ERROR"
	// MessageTypeExit indicates the agent is exiting
	MessageTypeExit MessageType = "EXIT"
)

// CommandType represents the type of command to execute.
type CommandType string

const (
	// CommandTypeHTTPProbe performs an HTTP GET probe
	CommandTypeHTTPProbe CommandType = "probe.http"
	// CommandTypeTCPProbe performs a TCP dial probe
	CommandTypeTCPProbe CommandType = "probe.tcp"
	// CommandTypeDNSProbe performs a DNS resolution probe
	CommandTypeDNSProbe CommandType = "probe.dns"
	// CommandTypePing verifies the agent round-trip during onboarding
	CommandTypePing CommandType = "ping"
)

// Message is the base message structure for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is sent when the agent is ready to receive commands.
type ReadyMessage struct {
	Protocol string            `json:"protocol"`
	Version  string            `json:"version"`
	Platform string            `json:"platform"`
	Arch     string            `json:"arch"`
	PID      int               `json:"pid"`
	Caps     map[string]bool   `json:"capabilities"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CommandMessage contains a command to execute.
type CommandMessage struct {
	ID       string            `json:"id"`
	Type     CommandType       `json:"type"`
	Timeout  int               `json:"timeout"` // seconds
	Params   json.RawMessage   `json:"params"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EventMessage contains progress information during command execution.
type EventMessage struct {
	CommandID string            `json:"command_id"`
	Level     string            `json:"level"` // info, warn, debug
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DoneMessage indicates successful command completion.
type DoneMessage struct {
	CommandID string            `json:"command_id"`
	Result    json.RawMessage   `json:"result"`
	Duration  float64           `json:"duration"` // seconds
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ErrorMessage indicates an error occurred.
type ErrorMessage struct {
	CommandID  string            `json:"command_id,omitempty"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Retryable  bool              `json:"retryable"`
	RetryAfter int               `json:"retry_after,omitempty"` // seconds
}

// ExitMessage is sent before the agent terminates.
type ExitMessage struct {
	Reason      string `json:"reason"`
	ExitCode    int    `json:"exit_code"`
	ProbesTotal int    `json:"probes_total"`
}

// Command parameter structures for each command type

// HTTPProbeParams contains parameters for an HTTP probe.
type HTTPProbeParams struct {
	URL string `json:"url"`
	// ExpectStatus pins the probe to an exact status code. Zero accepts
	// any status below 400.
	ExpectStatus int `json:"expect_status,omitempty"`
}

// TCPProbeParams contains parameters for a TCP dial probe.
type TCPProbeParams struct {
	Address string `json:"address"` // host:port
}

// DNSProbeParams contains parameters for a DNS resolution probe.
type DNSProbeParams struct {
	Host string `json:"host"`
}

// PingParams contains the handshake token for a ping command.
type PingParams struct {
	Token string `json:"token"`
}

// ProbeResult is the shared result shape for all probe commands. A
// failed probe is a DONE message with Passed false; ERROR is reserved
// for the agent itself malfunctioning.
type ProbeResult struct {
	Passed   bool    `json:"passed"`
	Detail   string  `json:"detail,omitempty"`
	Duration float64 `json:"duration"` // seconds
}

// PingResult echoes the handshake token back to the controller.
type PingResult struct {
	Token    string  `json:"token"`
	Protocol string  `json:"protocol"`
	Uptime   float64 `json:"uptime"` // seconds
}

// Validation methods

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeCommand, MessageTypeEvent,
		MessageTypeDone, MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the command type is valid.
func (ct CommandType) Validate() error {
	switch ct {
	case CommandTypeHTTPProbe, CommandTypeTCPProbe,
		CommandTypeDNSProbe, CommandTypePing:
		return nil
	default:
		return fmt.Errorf("invalid command type: %s", ct)
	}
}

// Validate checks if the command message is valid.
func (cmd *CommandMessage) Validate() error {
	if cmd.ID == "" {
		return fmt.Errorf("command ID is required")
	}
	if err := cmd.Type.Validate(); err != nil {
		return err
	}
	if cmd.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if len(cmd.Params) == 0 {
		return fmt.Errorf("command params are required")
	}
	return nil
}

// Validate checks if the event message is valid.
func (evt *EventMessage) Validate() error {
	if evt.CommandID == "" {
		return fmt.Errorf("command ID is required")
	}
	if evt.Level == "" {
		evt.Level = "info"
	}
	validLevels := map[string]bool{"info": true, "warn": true, "debug": true}
	if !validLevels[evt.Level] {
		return fmt.Errorf("invalid event level: %s", evt.Level)
	}
	return nil
}
