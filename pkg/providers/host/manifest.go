package host

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Finding severities a plugin may report. Error findings fail the
// deployment pre-flight; everything else is advisory.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

func validSeverity(s string) bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityError
}

// PluginSpec is the raw YAML shape of a lint plugin manifest.
type PluginSpec struct {
	// Name identifies the plugin.
	Name string `yaml:"name"`

	// Version is the plugin version.
	Version string `yaml:"version"`

	// Author names the maintainer.
	Author string `yaml:"author,omitempty"`

	// Description says what the plugin checks.
	Description string `yaml:"description,omitempty"`

	// Capabilities are the host functions the plugin needs.
	Capabilities []string `yaml:"capabilities,omitempty"`

	// Checks declares every check the plugin can report.
	Checks []CheckDecl `yaml:"checks"`

	// Entrypoint is the WASM module path, relative to the manifest.
	Entrypoint string `yaml:"entrypoint"`

	// Checksum is the optional SHA-256 of the WASM module, hex encoded.
	Checksum string `yaml:"checksum,omitempty"`
}

// CheckDecl declares one check in the manifest.
type CheckDecl struct {
	// ID is the stable check identifier, e.g. "unbalanced-braces".
	ID string `yaml:"id"`

	// Description says what the check inspects.
	Description string `yaml:"description"`

	// Severity is the default severity for findings of this check.
	// Empty means warning.
	Severity string `yaml:"severity,omitempty"`
}

// Manifest is a parsed and validated plugin manifest.
type Manifest struct {
	// Spec is the raw manifest data from the YAML file.
	Spec *PluginSpec

	// Checks maps check ID to its declaration.
	Checks map[string]*CheckDecl

	// Path is the file the manifest was loaded from.
	Path string

	// WasmPath is the resolved path to the WASM module.
	WasmPath string

	// Verified reports whether the WASM checksum has been verified.
	Verified bool
}

// ManifestLoader loads and parses lint plugin manifests.
type ManifestLoader struct {
	// BaseDir resolves relative entrypoints for manifests loaded from
	// bytes.
	BaseDir string
}

// NewManifestLoader creates a manifest loader.
func NewManifestLoader(baseDir string) *ManifestLoader {
	return &ManifestLoader{BaseDir: baseDir}
}

// LoadFromFile loads a manifest from a YAML file and resolves its
// WASM entrypoint.
func (m *ManifestLoader) LoadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var spec PluginSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := m.validateSpec(&spec); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	manifest := &Manifest{
		Spec:   &spec,
		Path:   path,
		Checks: indexChecks(&spec),
	}

	if err := m.resolveWasmPath(manifest); err != nil {
		return nil, fmt.Errorf("failed to resolve WASM path: %w", err)
	}

	return manifest, nil
}

// LoadFromBytes loads a manifest from raw bytes, verifying the WASM
// module checksum when the manifest declares one.
func (m *ManifestLoader) LoadFromBytes(data []byte, wasmModule []byte) (*Manifest, error) {
	var spec PluginSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := m.validateSpec(&spec); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	manifest := &Manifest{
		Spec:   &spec,
		Checks: indexChecks(&spec),
	}

	if spec.Checksum != "" {
		if err := manifest.VerifyChecksum(wasmModule); err != nil {
			return nil, err
		}
	}

	return manifest, nil
}

// validateSpec validates the basic structure of a manifest.
func (m *ManifestLoader) validateSpec(spec *PluginSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if spec.Version == "" {
		return fmt.Errorf("plugin version is required")
	}
	if spec.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if len(spec.Checks) == 0 {
		return fmt.Errorf("at least one check is required")
	}

	for _, capability := range spec.Capabilities {
		if !knownCapability(capability) {
			return fmt.Errorf("unknown capability %s", capability)
		}
	}

	seen := make(map[string]bool, len(spec.Checks))
	for i := range spec.Checks {
		check := &spec.Checks[i]
		if check.ID == "" {
			return fmt.Errorf("check %d: id is required", i)
		}
		if seen[check.ID] {
			return fmt.Errorf("check %s declared twice", check.ID)
		}
		seen[check.ID] = true
		if check.Description == "" {
			return fmt.Errorf("check %s: description is required", check.ID)
		}
		if check.Severity == "" {
			check.Severity = SeverityWarning
		}
		if !validSeverity(check.Severity) {
			return fmt.Errorf("check %s: invalid severity %s", check.ID, check.Severity)
		}
	}

	return nil
}

// resolveWasmPath resolves the path to the WASM module.
func (m *ManifestLoader) resolveWasmPath(manifest *Manifest) error {
	if filepath.IsAbs(manifest.Spec.Entrypoint) {
		manifest.WasmPath = manifest.Spec.Entrypoint
	} else if manifest.Path != "" {
		manifest.WasmPath = filepath.Join(filepath.Dir(manifest.Path), manifest.Spec.Entrypoint)
	} else {
		manifest.WasmPath = filepath.Join(m.BaseDir, manifest.Spec.Entrypoint)
	}

	if _, err := os.Stat(manifest.WasmPath); err != nil {
		return fmt.Errorf("WASM module not found at %s: %w", manifest.WasmPath, err)
	}

	return nil
}

func indexChecks(spec *PluginSpec) map[string]*CheckDecl {
	checks := make(map[string]*CheckDecl, len(spec.Checks))
	for i := range spec.Checks {
		checks[spec.Checks[i].ID] = &spec.Checks[i]
	}
	return checks
}

// VerifyChecksum verifies the WASM module against the manifest's
// declared checksum.
func (m *Manifest) VerifyChecksum(wasmModule []byte) error {
	if m.Spec.Checksum == "" {
		return fmt.Errorf("no checksum in manifest")
	}

	hash := sha256.Sum256(wasmModule)
	computed := hex.EncodeToString(hash[:])
	if computed != m.Spec.Checksum {
		return fmt.Errorf("WASM module checksum mismatch: expected %s, got %s",
			m.Spec.Checksum, computed)
	}

	m.Verified = true
	return nil
}

// Capabilities returns the host capabilities the manifest declares.
func (m *Manifest) Capabilities() []string {
	return m.Spec.Capabilities
}

// CheckIDs returns the declared check identifiers.
func (m *Manifest) CheckIDs() []string {
	ids := make([]string, 0, len(m.Spec.Checks))
	for _, check := range m.Spec.Checks {
		ids = append(ids, check.ID)
	}
	return ids
}

// DefaultSeverity returns the declared severity for a check, or
// warning for checks the manifest does not declare.
func (m *Manifest) DefaultSeverity(checkID string) string {
	if check, ok := m.Checks[checkID]; ok {
		return check.Severity
	}
	return SeverityWarning
}
