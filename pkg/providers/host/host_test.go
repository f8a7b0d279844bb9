package host

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const lintManifestYAML = `
name: template-lint
version: 1.0.0
author: OpenLander
description: Structural template checks
capabilities:
  - template:read
  - log
checks:
  - id: unbalanced-braces
    description: Braces and brackets must balance
    severity: error
  - id: empty-resource
    description: Resource blocks must declare at least one property
  - id: unreferenced-parameter
    description: Declared parameters should be referenced
    severity: info
entrypoint: template_lint.wasm
`

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestManifestLoader(t *testing.T) {
	t.Run("LoadFromBytes", func(t *testing.T) {
		loader := NewManifestLoader(t.TempDir())

		manifest, err := loader.LoadFromBytes([]byte(lintManifestYAML), []byte("fake wasm"))
		if err != nil {
			t.Fatalf("failed to load manifest: %v", err)
		}

		if manifest.Spec.Name != "template-lint" {
			t.Errorf("name = %q, want template-lint", manifest.Spec.Name)
		}
		if manifest.Spec.Version != "1.0.0" {
			t.Errorf("version = %q, want 1.0.0", manifest.Spec.Version)
		}
		if got := manifest.Capabilities(); len(got) != 2 {
			t.Errorf("capabilities = %v, want 2", got)
		}
		if ids := manifest.CheckIDs(); len(ids) != 3 || ids[0] != "unbalanced-braces" {
			t.Errorf("check IDs = %v", ids)
		}
	})

	t.Run("SeverityDefaults", func(t *testing.T) {
		loader := NewManifestLoader(t.TempDir())

		manifest, err := loader.LoadFromBytes([]byte(lintManifestYAML), nil)
		if err != nil {
			t.Fatalf("failed to load manifest: %v", err)
		}

		if got := manifest.DefaultSeverity("unbalanced-braces"); got != SeverityError {
			t.Errorf("unbalanced-braces severity = %q, want error", got)
		}
		// No severity in the manifest falls back to warning.
		if got := manifest.DefaultSeverity("empty-resource"); got != SeverityWarning {
			t.Errorf("empty-resource severity = %q, want warning", got)
		}
		// Undeclared checks are warnings too.
		if got := manifest.DefaultSeverity("no-such-check"); got != SeverityWarning {
			t.Errorf("undeclared check severity = %q, want warning", got)
		}
	})

	t.Run("ValidateSpec", func(t *testing.T) {
		check := CheckDecl{ID: "a-check", Description: "checks things", Severity: SeverityWarning}
		valid := func() *PluginSpec {
			return &PluginSpec{
				Name:       "template-lint",
				Version:    "1.0.0",
				Entrypoint: "plugin.wasm",
				Checks:     []CheckDecl{check},
			}
		}

		tests := []struct {
			name      string
			mutate    func(*PluginSpec)
			wantError bool
		}{
			{"valid", func(s *PluginSpec) {}, false},
			{"missing name", func(s *PluginSpec) { s.Name = "" }, true},
			{"missing version", func(s *PluginSpec) { s.Version = "" }, true},
			{"missing entrypoint", func(s *PluginSpec) { s.Entrypoint = "" }, true},
			{"no checks", func(s *PluginSpec) { s.Checks = nil }, true},
			{"check without id", func(s *PluginSpec) { s.Checks[0].ID = "" }, true},
			{"check without description", func(s *PluginSpec) { s.Checks[0].Description = "" }, true},
			{"invalid severity", func(s *PluginSpec) { s.Checks[0].Severity = "fatal" }, true},
			{"duplicate check", func(s *PluginSpec) { s.Checks = append(s.Checks, check) }, true},
			{"unknown capability", func(s *PluginSpec) { s.Capabilities = []string{"net:outbound"} }, true},
			{"known capabilities", func(s *PluginSpec) {
				s.Capabilities = []string{CapabilityTemplateRead, CapabilityLog}
			}, false},
		}

		loader := NewManifestLoader(t.TempDir())
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				spec := valid()
				tt.mutate(spec)
				err := loader.validateSpec(spec)
				if tt.wantError && err == nil {
					t.Error("expected error, got none")
				}
				if !tt.wantError && err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
			})
		}
	})

	t.Run("ChecksumMismatch", func(t *testing.T) {
		withChecksum := strings.Replace(lintManifestYAML,
			"entrypoint: template_lint.wasm",
			"entrypoint: template_lint.wasm\nchecksum: "+strings.Repeat("ab", 32), 1)

		loader := NewManifestLoader(t.TempDir())
		if _, err := loader.LoadFromBytes([]byte(withChecksum), []byte("other bytes")); err == nil {
			t.Fatal("expected checksum mismatch error")
		}
	})

	t.Run("ChecksumMatch", func(t *testing.T) {
		module := []byte("the wasm module")
		sum := sha256.Sum256(module)
		withChecksum := strings.Replace(lintManifestYAML,
			"entrypoint: template_lint.wasm",
			"entrypoint: template_lint.wasm\nchecksum: "+hex.EncodeToString(sum[:]), 1)

		loader := NewManifestLoader(t.TempDir())
		manifest, err := loader.LoadFromBytes([]byte(withChecksum), module)
		if err != nil {
			t.Fatalf("failed to load manifest: %v", err)
		}
		if !manifest.Verified {
			t.Error("manifest not marked verified after checksum match")
		}
	})
}

func TestManifestFromFile(t *testing.T) {
	dir := t.TempDir()

	manifestPath := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(manifestPath, []byte(lintManifestYAML), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	wasmPath := filepath.Join(dir, "template_lint.wasm")
	if err := os.WriteFile(wasmPath, []byte("fake wasm"), 0o644); err != nil {
		t.Fatalf("failed to write WASM file: %v", err)
	}

	loader := NewManifestLoader(dir)
	manifest, err := loader.LoadFromFile(manifestPath)
	if err != nil {
		t.Fatalf("failed to load manifest from file: %v", err)
	}

	if manifest.Spec.Name != "template-lint" {
		t.Errorf("name = %q, want template-lint", manifest.Spec.Name)
	}
	if manifest.WasmPath != wasmPath {
		t.Errorf("WasmPath = %q, want %q", manifest.WasmPath, wasmPath)
	}
}

func TestManifestFromFileMissingWasm(t *testing.T) {
	dir := t.TempDir()

	manifestPath := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(manifestPath, []byte(lintManifestYAML), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	loader := NewManifestLoader(dir)
	if _, err := loader.LoadFromFile(manifestPath); err == nil {
		t.Fatal("expected error for missing WASM module")
	}
}

func TestCapabilityEnforcer(t *testing.T) {
	workspace := t.TempDir()
	templatePath := filepath.Join(workspace, "main.bicep")
	if err := os.WriteFile(templatePath, []byte("param location string\n"), 0o644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}

	enforcer := NewCapabilityEnforcer(
		[]string{CapabilityTemplateRead, CapabilityLog},
		workspace,
		testLogger(),
	)

	t.Run("Has", func(t *testing.T) {
		if !enforcer.Has(CapabilityTemplateRead) {
			t.Error("expected template:read to be granted")
		}
		if enforcer.Has("net:outbound") {
			t.Error("expected undeclared capability to be denied")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		if err := enforcer.Validate([]string{CapabilityTemplateRead, CapabilityLog}); err != nil {
			t.Errorf("expected granted capabilities to validate, got: %v", err)
		}
		if err := enforcer.Validate([]string{"net:outbound"}); err == nil {
			t.Error("expected error for missing capability")
		}
	})

	t.Run("ReadTemplate", func(t *testing.T) {
		data, err := enforcer.ReadTemplate("main.bicep")
		if err != nil {
			t.Fatalf("failed to read template: %v", err)
		}
		if !strings.Contains(string(data), "param location") {
			t.Errorf("unexpected template content: %q", data)
		}
	})

	t.Run("PathTraversal", func(t *testing.T) {
		if _, err := enforcer.ReadTemplate("../../etc/passwd"); err == nil {
			t.Error("expected error for path escaping the workspace")
		}
	})

	t.Run("AbsoluteOutsideWorkspace", func(t *testing.T) {
		if _, err := enforcer.ReadTemplate("/etc/hostname"); err == nil {
			t.Error("expected error for absolute path outside the workspace")
		}
	})

	t.Run("DeniedCapability", func(t *testing.T) {
		denied := NewCapabilityEnforcer([]string{CapabilityLog}, workspace, testLogger())
		_, err := denied.ReadTemplate("main.bicep")
		if err == nil {
			t.Fatal("expected error for denied capability")
		}
		if !strings.Contains(err.Error(), "not granted") {
			t.Errorf("expected capability error, got: %v", err)
		}
	})

	t.Run("NoWorkspace", func(t *testing.T) {
		unrooted := NewCapabilityEnforcer([]string{CapabilityTemplateRead}, "", testLogger())
		if _, err := unrooted.ReadTemplate("main.bicep"); err == nil {
			t.Error("expected error without a workspace")
		}
	})

	t.Run("LogMuted", func(t *testing.T) {
		muted := NewCapabilityEnforcer(nil, workspace, testLogger())
		// Must not panic or fail; the line is simply dropped.
		muted.Log("template-lint", logLevelWarn, "dropped")
	})
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(t.TempDir(), &HostConfig{Logger: testLogger()})

	t.Run("AllowedCapabilities", func(t *testing.T) {
		registry.SetAllowedCapabilities([]string{CapabilityLog})

		err := registry.Register(context.Background(), []byte(lintManifestYAML), []byte("fake wasm"))
		if err == nil {
			t.Fatal("expected capability denial for template:read")
		}

		registry.SetAllowedCapabilities(nil)
	})

	t.Run("RegisterAndList", func(t *testing.T) {
		if err := registry.Register(context.Background(), []byte(lintManifestYAML), []byte("fake wasm")); err != nil {
			t.Fatalf("failed to register plugin: %v", err)
		}

		// Same name and version cannot register twice.
		if err := registry.Register(context.Background(), []byte(lintManifestYAML), []byte("fake wasm")); err == nil {
			t.Fatal("expected error for duplicate registration")
		}

		infos, err := registry.List(context.Background())
		if err != nil {
			t.Fatalf("failed to list plugins: %v", err)
		}
		if len(infos) != 1 {
			t.Fatalf("plugins = %d, want 1", len(infos))
		}
		if infos[0].Name != "template-lint" || len(infos[0].Checks) != 3 {
			t.Errorf("unexpected plugin info: %+v", infos[0])
		}
	})

	t.Run("GetInvalidModule", func(t *testing.T) {
		// Registration keeps the raw bytes; instantiation is what
		// rejects a module that is not WASM.
		_, err := registry.Get(context.Background(), "template-lint", "1.0.0")
		if err == nil {
			t.Fatal("expected instantiation error for non-WASM bytes")
		}
	})

	t.Run("Unregister", func(t *testing.T) {
		if err := registry.Unregister(context.Background(), "template-lint", "1.0.0"); err != nil {
			t.Fatalf("failed to unregister: %v", err)
		}
		infos, err := registry.List(context.Background())
		if err != nil {
			t.Fatalf("failed to list plugins: %v", err)
		}
		if len(infos) != 0 {
			t.Errorf("plugins = %d after unregister, want 0", len(infos))
		}
	})
}

func TestRegistryVersionResolution(t *testing.T) {
	registry := NewRegistry(t.TempDir(), &HostConfig{Logger: testLogger()})

	for _, version := range []string{"1.0.0", "1.0.1", "1.1.0"} {
		manifest := strings.Replace(lintManifestYAML, "version: 1.0.0", "version: "+version, 1)
		if err := registry.Register(context.Background(), []byte(manifest), []byte("fake wasm")); err != nil {
			t.Fatalf("failed to register %s: %v", version, err)
		}
	}

	tests := []struct {
		version string
		want    string
		wantErr bool
	}{
		{"1.0.0", "template-lint@1.0.0", false},
		{"latest", "template-lint@1.1.0", false},
		{"", "template-lint@1.1.0", false},
		{"~1.0.0", "template-lint@1.0.1", false},
		{"^1.0.0", "template-lint@1.1.0", false},
		{"2.0.0", "", true},
	}
	for _, tt := range tests {
		key, err := registry.resolveVersion("template-lint", tt.version)
		if tt.wantErr {
			if err == nil {
				t.Errorf("resolveVersion(%q) succeeded, want error", tt.version)
			}
			continue
		}
		if err != nil {
			t.Errorf("resolveVersion(%q) error = %v", tt.version, err)
			continue
		}
		if key != tt.want {
			t.Errorf("resolveVersion(%q) = %q, want %q", tt.version, key, tt.want)
		}
	}

	if _, err := registry.resolveVersion("nonexistent", "1.0.0"); err == nil {
		t.Error("expected error for unregistered plugin")
	}
}

func TestRegistryScanDirectory(t *testing.T) {
	dir := t.TempDir()

	// A complete plugin directory.
	good := filepath.Join(dir, "template-lint")
	if err := os.MkdirAll(good, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(good, "manifest.yaml"), []byte(lintManifestYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(good, "template_lint.wasm"), []byte("fake wasm"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A broken one: manifest without its WASM module. Scan skips it.
	broken := filepath.Join(dir, "broken")
	if err := os.MkdirAll(broken, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(broken, "manifest.yaml"), []byte(lintManifestYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	// A directory without a manifest at all.
	if err := os.MkdirAll(filepath.Join(dir, "not-a-plugin"), 0o755); err != nil {
		t.Fatal(err)
	}

	registry := NewRegistry(dir, &HostConfig{Logger: testLogger()})
	if err := registry.ScanDirectory(context.Background(), dir); err != nil {
		t.Fatalf("ScanDirectory() error = %v", err)
	}

	infos, err := registry.List(context.Background())
	if err != nil {
		t.Fatalf("failed to list plugins: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "template-lint" {
		t.Errorf("plugins = %+v, want just template-lint", infos)
	}
}

func TestNewLintPluginRejectsInvalidModule(t *testing.T) {
	loader := NewManifestLoader(t.TempDir())
	manifest, err := loader.LoadFromBytes([]byte(lintManifestYAML), nil)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}

	_, err = NewLintPlugin(context.Background(), manifest, []byte("not wasm"), &HostConfig{Logger: testLogger()})
	if err == nil {
		t.Fatal("expected error for invalid WASM bytes")
	}
}

func TestLintReport(t *testing.T) {
	report := &LintReport{
		Plugin:  "template-lint",
		Version: "1.0.0",
		Findings: []Finding{
			{Check: "unreferenced-parameter", Message: "parameter skuName is never used", Severity: SeverityInfo},
			{Check: "unbalanced-braces", Message: "1 unclosed brace", Severity: SeverityError, Line: 14},
			{Check: "empty-resource", Message: "resource web has no properties", Severity: SeverityWarning},
		},
	}

	if report.Clean() {
		t.Error("Clean() = true with findings present")
	}

	errors := report.Errors()
	if len(errors) != 1 {
		t.Fatalf("Errors() = %d findings, want 1", len(errors))
	}
	if errors[0].Check != "unbalanced-braces" || errors[0].Line != 14 {
		t.Errorf("Errors()[0] = %+v", errors[0])
	}

	if !(&LintReport{Plugin: "template-lint"}).Clean() {
		t.Error("Clean() = false with no findings")
	}
}

func BenchmarkCapabilityCheck(b *testing.B) {
	enforcer := NewCapabilityEnforcer(
		[]string{CapabilityTemplateRead, CapabilityLog},
		os.TempDir(),
		testLogger(),
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = enforcer.Has(CapabilityTemplateRead)
	}
}
