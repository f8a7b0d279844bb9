package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEncoder(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "encode ready message",
			msgType: MessageTypeReady,
			data: &ReadyMessage{
				Protocol: Version,
				Version:  "1.0.0",
				Platform: "linux",
				Arch:     "amd64",
				PID:      1234,
				Caps:     map[string]bool{"probe.http": true},
			},
			wantErr: false,
		},
		{
			name:    "encode event message",
			msgType: MessageTypeEvent,
			data: &EventMessage{
				CommandID: "cmd-123",
				Level:     "debug",
				Message:   "executing probe.http",
			},
			wantErr: false,
		},
		{
			name:    "encode done message",
			msgType: MessageTypeDone,
			data: &DoneMessage{
				CommandID: "cmd-123",
				Duration:  0.42,
			},
			wantErr: false,
		},
		{
			name:    "encode error message",
			msgType: MessageTypeError,
			data: &ErrorMessage{
				CommandID: "cmd-123",
				Code:      "BAD_PARAMS",
				Message:   "url is required",
				Retryable: false,
			},
			wantErr: false,
		},
		{
			name:    "encode exit message",
			msgType: MessageTypeExit,
			data: &ExitMessage{
				Reason:      "stdin_closed",
				ExitCode:    0,
				ProbesTotal: 5,
			},
			wantErr: false,
		},
		{
			name:    "invalid message type",
			msgType: MessageType("INVALID"),
			data:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			enc := NewEncoder(&buf)

			err := enc.Encode(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Encode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				// Verify output is valid JSON
				line := strings.TrimSpace(buf.String())
				var msg Message
				if err := json.Unmarshal([]byte(line), &msg); err != nil {
					t.Errorf("Output is not valid JSON: %v", err)
				}
				if msg.Type != tt.msgType {
					t.Errorf("Message type = %v, want %v", msg.Type, tt.msgType)
				}
			}
		})
	}
}

func TestEncoderRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	err := enc.Encode(MessageTypeDone, &DoneMessage{
		CommandID: "cmd-123",
		Result:    json.RawMessage(`"` + strings.Repeat("x", MaxMessageBytes) + `"`),
	})
	if err == nil {
		t.Fatal("expected an oversized message to be refused")
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written for a refused message")
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		msgType MessageType
	}{
		{
			name:    "decode ready message",
			input:   `{"type":"READY","timestamp":"2026-01-01T00:00:00Z","data":{"protocol":"1","version":"1.0.0","platform":"linux","arch":"amd64","pid":1234,"capabilities":{"probe.http":true}}}`,
			wantErr: false,
			msgType: MessageTypeReady,
		},
		{
			name:    "decode command message",
			input:   `{"type":"CMD","timestamp":"2026-01-01T00:00:00Z","data":{"id":"cmd-123","type":"probe.tcp","timeout":10,"params":{"address":"db:5432"}}}`,
			wantErr: false,
			msgType: MessageTypeCommand,
		},
		{
			name:    "decode event message",
			input:   `{"type":"EVENT","timestamp":"2026-01-01T00:00:00Z","data":{"command_id":"cmd-123","level":"info","message":"probing"}}`,
			wantErr: false,
			msgType: MessageTypeEvent,
		},
		{
			name:    "invalid json",
			input:   `{invalid json`,
			wantErr: true,
		},
		{
			name:    "empty line",
			input:   ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.input + "\n"))
			msg, err := dec.Decode()

			if (err != nil) != tt.wantErr {
				t.Errorf("Decode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if msg.Type != tt.msgType {
					t.Errorf("Message type = %v, want %v", msg.Type, tt.msgType)
				}
			}
		})
	}
}

func TestDecoderRejectsOversizedLine(t *testing.T) {
	line := `{"type":"DONE","data":{"result":"` + strings.Repeat("x", MaxMessageBytes) + `"}}`
	dec := NewDecoder(strings.NewReader(line + "\n"))

	if _, err := dec.Decode(); err == nil {
		t.Fatal("expected an over-limit line to fail the scan")
	}
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		cmdType CommandType
	}{
		{
			name:    "valid http probe command",
			input:   `{"type":"CMD","timestamp":"2026-01-01T00:00:00Z","data":{"id":"cmd-123","type":"probe.http","timeout":10,"params":{"url":"https://app.azurewebsites.net/health"}}}`,
			wantErr: false,
			cmdType: CommandTypeHTTPProbe,
		},
		{
			name:    "valid ping command",
			input:   `{"type":"CMD","timestamp":"2026-01-01T00:00:00Z","data":{"id":"cmd-124","type":"ping","timeout":5,"params":{"token":"abc"}}}`,
			wantErr: false,
			cmdType: CommandTypePing,
		},
		{
			name:    "wrong message type",
			input:   `{"type":"EVENT","timestamp":"2026-01-01T00:00:00Z","data":{}}`,
			wantErr: true,
		},
		{
			name:    "missing command id",
			input:   `{"type":"CMD","timestamp":"2026-01-01T00:00:00Z","data":{"type":"probe.http","timeout":10,"params":{}}}`,
			wantErr: true,
		},
		{
			name:    "invalid timeout",
			input:   `{"type":"CMD","timestamp":"2026-01-01T00:00:00Z","data":{"id":"cmd-123","type":"probe.http","timeout":0,"params":{}}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.input + "\n"))
			cmd, err := dec.DecodeCommand()

			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if cmd.Type != tt.cmdType {
					t.Errorf("Command type = %v, want %v", cmd.Type, tt.cmdType)
				}
			}
		})
	}
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		params  string
		target  interface{}
		wantErr bool
	}{
		{
			name:    "parse http probe params",
			params:  `{"url":"https://app.azurewebsites.net/health","expect_status":200}`,
			target:  &HTTPProbeParams{},
			wantErr: false,
		},
		{
			name:    "parse tcp probe params",
			params:  `{"address":"db.postgres.database.azure.com:5432"}`,
			target:  &TCPProbeParams{},
			wantErr: false,
		},
		{
			name:    "parse dns probe params",
			params:  `{"host":"acct.blob.core.windows.net"}`,
			target:  &DNSProbeParams{},
			wantErr: false,
		},
		{
			name:    "invalid json",
			params:  `{invalid}`,
			target:  &HTTPProbeParams{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseParams(json.RawMessage(tt.params), tt.target)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
