package client

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openlander/openlander/pkg/health"
	"github.com/openlander/openlander/pkg/probe_runner/protocol"
	"github.com/openlander/openlander/pkg/region"
)

// startScriptedAgent wires a client to an in-process agent goroutine
// speaking the real protocol over pipes.
func startScriptedAgent(t *testing.T, script func(enc *protocol.Encoder, dec *protocol.Decoder)) *Client {
	t.Helper()

	cmdReader, cmdWriter := io.Pipe()
	respReader, respWriter := io.Pipe()

	go func() {
		// Closing both ends once the script returns turns any further
		// client I/O into an error instead of a blocked pipe.
		defer respWriter.Close()
		defer cmdReader.Close()
		script(protocol.NewEncoder(respWriter), protocol.NewDecoder(cmdReader))
	}()

	client := NewClient(cmdWriter, respReader)
	t.Cleanup(func() { client.Close() })
	return client
}

func sendReady(enc *protocol.Encoder) {
	enc.EncodeReady(&protocol.ReadyMessage{
		Protocol: protocol.Version,
		Version:  "1.0.0",
		Platform: "linux",
		Arch:     "amd64",
		PID:      4242,
		Caps:     map[string]bool{"probe.http": true, "probe.tcp": true, "probe.dns": true, "ping": true},
	})
}

func TestHandshake(t *testing.T) {
	client := startScriptedAgent(t, func(enc *protocol.Encoder, dec *protocol.Decoder) {
		sendReady(enc)
	})

	if err := client.Handshake(context.Background(), time.Second); err != nil {
		t.Fatalf("Handshake() failed: %v", err)
	}

	ready := client.Ready()
	if ready == nil {
		t.Fatal("Ready() should return the handshake message")
	}
	if ready.Platform != "linux" {
		t.Errorf("Platform = %q, want %q", ready.Platform, "linux")
	}
	if !ready.Caps["probe.http"] {
		t.Error("expected the probe.http capability")
	}
}

func TestHandshakeVersionMismatch(t *testing.T) {
	client := startScriptedAgent(t, func(enc *protocol.Encoder, dec *protocol.Decoder) {
		enc.EncodeReady(&protocol.ReadyMessage{
			Protocol: "0",
			Version:  "0.9.0",
			Platform: "linux",
			Arch:     "amd64",
			PID:      4242,
		})
	})

	err := client.Handshake(context.Background(), time.Second)
	if err == nil {
		t.Fatal("expected a protocol version mismatch to fail the handshake")
	}
	if !strings.Contains(err.Error(), "protocol version mismatch") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	client := startScriptedAgent(t, func(enc *protocol.Encoder, dec *protocol.Decoder) {
		// A silent agent: never sends READY.
		<-block
	})

	err := client.Handshake(context.Background(), 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected the handshake to time out")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExecute(t *testing.T) {
	client := startScriptedAgent(t, func(enc *protocol.Encoder, dec *protocol.Decoder) {
		cmd, err := dec.DecodeCommand()
		if err != nil {
			t.Errorf("agent failed to decode command: %v", err)
			return
		}

		// An event first; the client must skip it.
		enc.EncodeEvent(&protocol.EventMessage{
			CommandID: cmd.ID,
			Level:     "debug",
			Message:   "executing probe.http",
		})

		raw, _ := json.Marshal(protocol.ProbeResult{Passed: true, Detail: "status 200", Duration: 0.05})
		enc.EncodeDone(&protocol.DoneMessage{CommandID: cmd.ID, Result: raw, Duration: 0.05})
	})

	params, _ := json.Marshal(protocol.HTTPProbeParams{URL: "https://app.azurewebsites.net/health"})
	done, err := client.Execute(context.Background(), &protocol.CommandMessage{
		ID:      "cmd-1",
		Type:    protocol.CommandTypeHTTPProbe,
		Timeout: 10,
		Params:  params,
	})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	var result protocol.ProbeResult
	if err := protocol.ParseParams(done.Result, &result); err != nil {
		t.Fatalf("failed to parse result: %v", err)
	}
	if !result.Passed {
		t.Error("expected the probe to pass")
	}
	if result.Detail != "status 200" {
		t.Errorf("Detail = %q, want %q", result.Detail, "status 200")
	}
}

func TestExecuteAgentError(t *testing.T) {
	client := startScriptedAgent(t, func(enc *protocol.Encoder, dec *protocol.Decoder) {
		cmd, err := dec.DecodeCommand()
		if err != nil {
			return
		}
		enc.EncodeError(&protocol.ErrorMessage{
			CommandID: cmd.ID,
			Code:      "BAD_PARAMS",
			Message:   "url is required",
		})
	})

	params, _ := json.Marshal(protocol.HTTPProbeParams{})
	_, err := client.Execute(context.Background(), &protocol.CommandMessage{
		ID:      "cmd-2",
		Type:    protocol.CommandTypeHTTPProbe,
		Timeout: 10,
		Params:  params,
	})
	if err == nil {
		t.Fatal("expected an agent error to fail the command")
	}
	if !strings.Contains(err.Error(), "BAD_PARAMS") {
		t.Errorf("error should carry the agent code, got %v", err)
	}
}

func TestExecuteCommandIDMismatch(t *testing.T) {
	client := startScriptedAgent(t, func(enc *protocol.Encoder, dec *protocol.Decoder) {
		if _, err := dec.DecodeCommand(); err != nil {
			return
		}
		raw, _ := json.Marshal(protocol.ProbeResult{Passed: true})
		enc.EncodeDone(&protocol.DoneMessage{CommandID: "someone-else", Result: raw})
	})

	params, _ := json.Marshal(protocol.TCPProbeParams{Address: "db:5432"})
	_, err := client.Execute(context.Background(), &protocol.CommandMessage{
		ID:      "cmd-3",
		Type:    protocol.CommandTypeTCPProbe,
		Timeout: 10,
		Params:  params,
	})
	if err == nil {
		t.Fatal("expected a command ID mismatch error")
	}
}

func TestPing(t *testing.T) {
	client := startScriptedAgent(t, func(enc *protocol.Encoder, dec *protocol.Decoder) {
		cmd, err := dec.DecodeCommand()
		if err != nil {
			return
		}
		var ping protocol.PingParams
		if err := protocol.ParseParams(cmd.Params, &ping); err != nil {
			t.Errorf("agent failed to parse ping params: %v", err)
			return
		}
		raw, _ := json.Marshal(protocol.PingResult{Token: ping.Token, Protocol: protocol.Version, Uptime: 1})
		enc.EncodeDone(&protocol.DoneMessage{CommandID: cmd.ID, Result: raw})
	})

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() failed: %v", err)
	}
}

func TestPingTokenMismatch(t *testing.T) {
	client := startScriptedAgent(t, func(enc *protocol.Encoder, dec *protocol.Decoder) {
		cmd, err := dec.DecodeCommand()
		if err != nil {
			return
		}
		raw, _ := json.Marshal(protocol.PingResult{Token: "forged", Protocol: protocol.Version})
		enc.EncodeDone(&protocol.DoneMessage{CommandID: cmd.ID, Result: raw})
	})

	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected a token mismatch to fail the ping")
	}
}

// fakeTransport starts one scripted agent per Execute call.
type fakeTransport struct {
	mu      sync.Mutex
	starts  int
	scripts []func(enc *protocol.Encoder, dec *protocol.Decoder)
}

func (f *fakeTransport) Execute(ctx context.Context, command string) (io.WriteCloser, io.Reader, error) {
	f.mu.Lock()
	idx := f.starts
	f.starts++
	f.mu.Unlock()

	if idx >= len(f.scripts) {
		idx = len(f.scripts) - 1
	}
	script := f.scripts[idx]

	cmdReader, cmdWriter := io.Pipe()
	respReader, respWriter := io.Pipe()

	go func() {
		defer respWriter.Close()
		defer cmdReader.Close()
		script(protocol.NewEncoder(respWriter), protocol.NewDecoder(cmdReader))
	}()

	return cmdWriter, respReader, nil
}

func (f *fakeTransport) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// probingAgent answers every probe command with the given result and
// records the commands it receives.
func probingAgent(result protocol.ProbeResult, got chan<- *protocol.CommandMessage) func(*protocol.Encoder, *protocol.Decoder) {
	return func(enc *protocol.Encoder, dec *protocol.Decoder) {
		sendReady(enc)
		for {
			cmd, err := dec.DecodeCommand()
			if err != nil {
				return
			}
			if got != nil {
				got <- cmd
			}
			raw, _ := json.Marshal(result)
			enc.EncodeDone(&protocol.DoneMessage{CommandID: cmd.ID, Result: raw, Duration: result.Duration})
		}
	}
}

func TestProberProbe(t *testing.T) {
	got := make(chan *protocol.CommandMessage, 2)
	transport := &fakeTransport{
		scripts: []func(*protocol.Encoder, *protocol.Decoder){
			probingAgent(protocol.ProbeResult{Passed: true, Detail: "connected"}, got),
		},
	}

	prober := NewProber(transport, "/usr/local/bin/probe-runner")
	defer prober.Close()

	passed, detail, err := prober.Probe(context.Background(), health.Probe{
		Service: "postgres",
		Type:    region.ProbeTypeTCP,
		Target:  "app-db.postgres.database.azure.com:5432",
		Timeout: 5 * time.Second,
		Via:     region.ProbeViaBastion,
	})
	if err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}
	if !passed {
		t.Error("expected the probe to pass")
	}
	if detail != "connected" {
		t.Errorf("detail = %q, want %q", detail, "connected")
	}

	cmd := <-got
	if cmd.Type != protocol.CommandTypeTCPProbe {
		t.Errorf("command type = %s, want %s", cmd.Type, protocol.CommandTypeTCPProbe)
	}
	if cmd.Timeout != 5 {
		t.Errorf("command timeout = %d, want 5", cmd.Timeout)
	}
	var params protocol.TCPProbeParams
	if err := protocol.ParseParams(cmd.Params, &params); err != nil {
		t.Fatalf("failed to parse forwarded params: %v", err)
	}
	if params.Address != "app-db.postgres.database.azure.com:5432" {
		t.Errorf("forwarded address = %q", params.Address)
	}

	// A second probe reuses the running agent.
	if _, _, err := prober.Probe(context.Background(), health.Probe{
		Service: "servicebus",
		Type:    region.ProbeTypeTCP,
		Target:  "bus:5671",
		Timeout: time.Second,
	}); err != nil {
		t.Fatalf("second Probe() failed: %v", err)
	}
	if transport.startCount() != 1 {
		t.Errorf("agent started %d times, want 1", transport.startCount())
	}
}

func TestProberRestartsBrokenAgent(t *testing.T) {
	transport := &fakeTransport{
		scripts: []func(*protocol.Encoder, *protocol.Decoder){
			// First agent dies right after the handshake.
			func(enc *protocol.Encoder, dec *protocol.Decoder) {
				sendReady(enc)
			},
			probingAgent(protocol.ProbeResult{Passed: true, Detail: "status 200"}, nil),
		},
	}

	prober := NewProber(transport, "/usr/local/bin/probe-runner")
	defer prober.Close()

	probe := health.Probe{
		Service: "functions",
		Type:    region.ProbeTypeHTTP,
		Target:  "https://app.azurewebsites.net/api/health",
		Timeout: time.Second,
		Via:     region.ProbeViaBastion,
	}

	if _, _, err := prober.Probe(context.Background(), probe); err == nil {
		t.Fatal("expected the first probe to fail against a dead agent")
	}

	passed, _, err := prober.Probe(context.Background(), probe)
	if err != nil {
		t.Fatalf("probe after restart failed: %v", err)
	}
	if !passed {
		t.Error("expected the probe to pass after restart")
	}
	if transport.startCount() != 2 {
		t.Errorf("agent started %d times, want 2", transport.startCount())
	}
}

func TestProberRejectsUnsupportedProbeType(t *testing.T) {
	transport := &fakeTransport{
		scripts: []func(*protocol.Encoder, *protocol.Decoder){
			probingAgent(protocol.ProbeResult{Passed: true}, nil),
		},
	}

	prober := NewProber(transport, "/usr/local/bin/probe-runner")
	defer prober.Close()

	_, _, err := prober.Probe(context.Background(), health.Probe{
		Service: "storage",
		Type:    "icmp",
		Target:  "10.0.0.4",
	})
	if err == nil {
		t.Fatal("expected an unsupported probe type to be rejected")
	}
	if transport.startCount() != 0 {
		t.Error("the agent should not start for a rejected probe")
	}
}
