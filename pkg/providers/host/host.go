package host

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// LintRequest tells a plugin what to inspect. Paths are relative to
// the workspace the host was configured with; the plugin reads them
// back through the read_template host function.
type LintRequest struct {
	// TemplatePath is the template under lint.
	TemplatePath string `json:"template_path"`

	// ParametersPath is the parameter file, when the deployment has
	// one.
	ParametersPath string `json:"parameters_path,omitempty"`

	// Environment names the target environment, for checks that care.
	Environment string `json:"environment,omitempty"`
}

// Finding is one issue a plugin reports.
type Finding struct {
	// Check is the check identifier from the plugin manifest.
	Check string `json:"check"`

	// Message describes the issue.
	Message string `json:"message"`

	// Severity is info, warning, or error. Error findings fail the
	// pre-flight.
	Severity string `json:"severity"`

	// Line is the 1-based template line, when the check can point at
	// one.
	Line int `json:"line,omitempty"`
}

// LintReport is the outcome of running one plugin.
type LintReport struct {
	// Plugin is the reporting plugin's name.
	Plugin string `json:"plugin"`

	// Version is the plugin version.
	Version string `json:"version"`

	// Findings lists every reported issue.
	Findings []Finding `json:"findings,omitempty"`
}

// Errors returns the findings that fail the pre-flight.
func (r *LintReport) Errors() []Finding {
	var out []Finding
	for _, finding := range r.Findings {
		if finding.Severity == SeverityError {
			out = append(out, finding)
		}
	}
	return out
}

// Clean reports whether the plugin found nothing at all.
func (r *LintReport) Clean() bool {
	return len(r.Findings) == 0
}

// HostConfig configures the lint plugin host.
type HostConfig struct {
	// Timeout bounds one lint call. Default 10s.
	Timeout time.Duration

	// MemoryLimitPages caps plugin memory in 64KB pages. Default 256
	// pages (16MB).
	MemoryLimitPages uint32

	// WorkspaceDir is the containment root for template reads.
	WorkspaceDir string

	// Logger is the base logger.
	Logger zerolog.Logger
}

// DefaultTimeout and DefaultMemoryLimitPages bound plugins that do not
// get explicit limits.
const (
	DefaultTimeout          = 10 * time.Second
	DefaultMemoryLimitPages = 256
)

// LintPlugin is one instantiated WASM lint plugin. Plugins run
// sandboxed: WASI with no pre-opened filesystem, a memory cap, and
// close-on-context-done so a hung plugin dies with its deadline. The
// only ways out of the sandbox are the read_template and log host
// functions, both capability-gated.
type LintPlugin struct {
	manifest *Manifest
	runtime  wazero.Runtime
	module   api.Module
	bridge   *lintBridge
	enforcer *CapabilityEnforcer
	logger   zerolog.Logger
}

// NewLintPlugin instantiates a plugin from its manifest and module
// bytes. The returned plugin holds a live runtime; Close releases it.
func NewLintPlugin(ctx context.Context, manifest *Manifest, wasmModule []byte, cfg *HostConfig) (*LintPlugin, error) {
	if cfg == nil {
		cfg = &HostConfig{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	memoryLimit := cfg.MemoryLimitPages
	if memoryLimit == 0 {
		memoryLimit = DefaultMemoryLimitPages
	}

	logger := cfg.Logger.With().
		Str("component", "lint-host").
		Str("plugin", manifest.Spec.Name).
		Logger()
	enforcer := NewCapabilityEnforcer(manifest.Capabilities(), cfg.WorkspaceDir, logger)

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(memoryLimit).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	builder := runtime.NewHostModuleBuilder("env")
	registerHostFunctions(builder, manifest.Spec.Name, enforcer)
	if _, err := builder.Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	// Reactor modules initialize through _initialize, not _start;
	// wazero skips start functions the module does not export.
	moduleConfig := wazero.NewModuleConfig().
		WithName(manifest.Spec.Name).
		WithStartFunctions("_initialize")
	module, err := runtime.InstantiateWithConfig(ctx, wasmModule, moduleConfig)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	bridge, err := newLintBridge(module, timeout)
	if err != nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to create lint bridge: %w", err)
	}

	return &LintPlugin{
		manifest: manifest,
		runtime:  runtime,
		module:   module,
		bridge:   bridge,
		enforcer: enforcer,
		logger:   logger,
	}, nil
}

// registerHostFunctions registers the host functions plugins can call.
func registerHostFunctions(builder wazero.HostModuleBuilder, pluginName string, enforcer *CapabilityEnforcer) {
	// read_template(path_ptr, path_len) -> (ptr << 32) | len of the
	// file content in guest memory, or 0 on failure. The host
	// allocates the content buffer with the plugin's own malloc.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, pathPtr, pathLen uint32) uint64 {
			pathBytes, ok := mod.Memory().Read(pathPtr, pathLen)
			if !ok {
				return 0
			}

			data, err := enforcer.ReadTemplate(string(pathBytes))
			if err != nil {
				enforcer.Log(pluginName, logLevelWarn, fmt.Sprintf("read_template: %v", err))
				return 0
			}
			if len(data) == 0 {
				return 0
			}

			malloc := mod.ExportedFunction("malloc")
			if malloc == nil {
				return 0
			}
			results, err := malloc.Call(ctx, uint64(len(data)))
			if err != nil || len(results) == 0 {
				return 0
			}
			ptr := uint32(results[0])
			if ptr == 0 || !mod.Memory().Write(ptr, data) {
				return 0
			}
			return uint64(ptr)<<32 | uint64(len(data))
		}).
		Export("read_template")

	// log(level, msg_ptr, msg_len) routes a plugin log line through
	// the host logger.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, level, msgPtr, msgLen uint32) {
			msgBytes, ok := mod.Memory().Read(msgPtr, msgLen)
			if !ok {
				return
			}
			enforcer.Log(pluginName, level, string(msgBytes))
		}).
		Export("log")
}

// Lint runs the plugin over the request's template and returns the
// normalized findings.
func (p *LintPlugin) Lint(ctx context.Context, req LintRequest) (*LintReport, error) {
	request, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lint request: %w", err)
	}

	start := time.Now()
	response, err := p.bridge.Lint(ctx, request)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Findings []Finding `json:"findings"`
	}
	if err := json.Unmarshal(response, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse lint response: %w", err)
	}

	report := &LintReport{
		Plugin:   p.manifest.Spec.Name,
		Version:  p.manifest.Spec.Version,
		Findings: raw.Findings,
	}
	for i := range report.Findings {
		finding := &report.Findings[i]
		if finding.Severity == "" || !validSeverity(finding.Severity) {
			finding.Severity = p.manifest.DefaultSeverity(finding.Check)
		}
	}

	p.logger.Debug().
		Str("template", req.TemplatePath).
		Int("findings", len(report.Findings)).
		Dur("duration", time.Since(start)).
		Msg("Lint pass finished")
	return report, nil
}

// Manifest returns the plugin's manifest.
func (p *LintPlugin) Manifest() *Manifest {
	return p.manifest
}

// Close releases the plugin's runtime.
func (p *LintPlugin) Close(ctx context.Context) error {
	if p.module != nil {
		if err := p.module.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM module: %w", err)
		}
	}
	if p.runtime != nil {
		if err := p.runtime.Close(ctx); err != nil {
			return fmt.Errorf("failed to close WASM runtime: %w", err)
		}
	}
	return nil
}
