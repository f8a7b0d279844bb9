package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// PluginInfo describes one registered plugin.
type PluginInfo struct {
	// Name is the plugin name.
	Name string `json:"name"`

	// Version is the plugin version.
	Version string `json:"version"`

	// Description says what the plugin checks.
	Description string `json:"description,omitempty"`

	// Checks lists the declared check identifiers.
	Checks []string `json:"checks"`
}

// Registry holds lint plugins keyed by name@version. Plugins register
// lazily: the WASM module instantiates on first use and stays cached
// for the life of the registry.
type Registry struct {
	mu sync.RWMutex

	// plugins maps plugin key to instantiated plugin.
	plugins map[string]*LintPlugin

	// manifests maps plugin key to manifest.
	manifests map[string]*Manifest

	// wasmModules maps plugin key to WASM module bytes.
	wasmModules map[string][]byte

	// loader is the manifest loader.
	loader *ManifestLoader

	// hostConfig is the host configuration plugins instantiate with.
	hostConfig *HostConfig

	// allowedCapabilities restricts what registered plugins may
	// request. Empty allows everything.
	allowedCapabilities map[string]bool

	logger zerolog.Logger
}

// NewRegistry creates a plugin registry rooted at baseDir.
func NewRegistry(baseDir string, hostConfig *HostConfig) *Registry {
	if hostConfig == nil {
		hostConfig = &HostConfig{}
	}

	return &Registry{
		plugins:             make(map[string]*LintPlugin),
		manifests:           make(map[string]*Manifest),
		wasmModules:         make(map[string][]byte),
		loader:              NewManifestLoader(baseDir),
		hostConfig:          hostConfig,
		allowedCapabilities: make(map[string]bool),
		logger:              hostConfig.Logger.With().Str("component", "lint-registry").Logger(),
	}
}

// SetAllowedCapabilities restricts the capabilities plugins may
// declare.
func (r *Registry) SetAllowedCapabilities(capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.allowedCapabilities = make(map[string]bool, len(capabilities))
	for _, capability := range capabilities {
		r.allowedCapabilities[capability] = true
	}
}

// Register registers a plugin from manifest bytes and its WASM module.
func (r *Registry) Register(ctx context.Context, manifestData []byte, wasmModule []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := r.loader.LoadFromBytes(manifestData, wasmModule)
	if err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	return r.store(ctx, manifest, wasmModule)
}

// RegisterFromPath registers a plugin from a manifest file; the WASM
// module loads from the manifest's entrypoint.
func (r *Registry) RegisterFromPath(ctx context.Context, manifestPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := r.loader.LoadFromFile(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	wasmModule, err := os.ReadFile(manifest.WasmPath)
	if err != nil {
		return fmt.Errorf("failed to read WASM module: %w", err)
	}

	if manifest.Spec.Checksum != "" {
		if err := manifest.VerifyChecksum(wasmModule); err != nil {
			return fmt.Errorf("checksum verification failed: %w", err)
		}
	}

	return r.store(ctx, manifest, wasmModule)
}

// store records a validated manifest. Callers hold the lock.
func (r *Registry) store(ctx context.Context, manifest *Manifest, wasmModule []byte) error {
	key := buildPluginKey(manifest.Spec.Name, manifest.Spec.Version)
	if _, exists := r.manifests[key]; exists {
		return fmt.Errorf("plugin %s already registered", key)
	}

	if err := r.validateCapabilities(manifest.Capabilities()); err != nil {
		return fmt.Errorf("capability validation failed: %w", err)
	}

	r.manifests[key] = manifest
	r.wasmModules[key] = wasmModule

	r.logger.Debug().
		Str("plugin", key).
		Strs("checks", manifest.CheckIDs()).
		Msg("Registered lint plugin")
	return nil
}

// Get retrieves a plugin by name and version, instantiating it on
// first use. Version accepts an exact version, "latest" (or empty),
// and tilde or caret ranges.
func (r *Registry) Get(ctx context.Context, name, version string) (*LintPlugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.resolveVersion(name, version)
	if err != nil {
		return nil, err
	}

	return r.instantiate(ctx, key)
}

// instantiate loads the plugin for key, caching it. Callers hold the
// lock.
func (r *Registry) instantiate(ctx context.Context, key string) (*LintPlugin, error) {
	if plugin, exists := r.plugins[key]; exists {
		return plugin, nil
	}

	manifest, exists := r.manifests[key]
	if !exists {
		return nil, fmt.Errorf("plugin %s not found", key)
	}
	wasmModule, exists := r.wasmModules[key]
	if !exists {
		return nil, fmt.Errorf("WASM module for plugin %s not found", key)
	}

	plugin, err := NewLintPlugin(ctx, manifest, wasmModule, r.hostConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate plugin %s: %w", key, err)
	}

	r.plugins[key] = plugin
	return plugin, nil
}

// Lint runs the latest registered version of every plugin over the
// request, in plugin name order. One failing plugin fails the pass;
// advisory-versus-blocking is the caller's reading of the findings.
func (r *Registry) Lint(ctx context.Context, req LintRequest) ([]*LintReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make(map[string]bool)
	for key := range r.manifests {
		names[keyName(key)] = true
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	reports := make([]*LintReport, 0, len(ordered))
	for _, name := range ordered {
		key, err := r.findLatestVersion(name)
		if err != nil {
			return nil, err
		}
		plugin, err := r.instantiate(ctx, key)
		if err != nil {
			return nil, err
		}
		report, err := plugin.Lint(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", key, err)
		}
		reports = append(reports, report)
	}

	return reports, nil
}

// List lists all registered plugins sorted by key.
func (r *Registry) List(ctx context.Context) ([]PluginInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.manifests))
	for key := range r.manifests {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	infos := make([]PluginInfo, 0, len(keys))
	for _, key := range keys {
		manifest := r.manifests[key]
		infos = append(infos, PluginInfo{
			Name:        manifest.Spec.Name,
			Version:     manifest.Spec.Version,
			Description: manifest.Spec.Description,
			Checks:      manifest.CheckIDs(),
		})
	}
	return infos, nil
}

// Unregister removes a plugin, closing it if instantiated.
func (r *Registry) Unregister(ctx context.Context, name, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := buildPluginKey(name, version)

	if plugin, exists := r.plugins[key]; exists {
		if err := plugin.Close(ctx); err != nil {
			return fmt.Errorf("failed to close plugin: %w", err)
		}
		delete(r.plugins, key)
	}

	delete(r.manifests, key)
	delete(r.wasmModules, key)
	return nil
}

// validateCapabilities checks requested capabilities against the
// allowed set. Callers hold the lock.
func (r *Registry) validateCapabilities(capabilities []string) error {
	if len(r.allowedCapabilities) == 0 {
		return nil
	}

	var denied []string
	for _, capability := range capabilities {
		if !r.allowedCapabilities[capability] {
			denied = append(denied, capability)
		}
	}
	if len(denied) > 0 {
		return fmt.Errorf("capabilities not allowed: %v", denied)
	}
	return nil
}

// Close closes all instantiated plugins and clears the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, plugin := range r.plugins {
		if err := plugin.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close plugin %s: %w", key, err))
		}
	}

	r.plugins = make(map[string]*LintPlugin)
	r.manifests = make(map[string]*Manifest)
	r.wasmModules = make(map[string][]byte)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing plugins: %v", errs)
	}
	return nil
}

// ScanDirectory registers every plugin found under dir. Each plugin
// lives in its own subdirectory with a manifest.yaml next to its WASM
// module. A plugin that fails to register is skipped with a warning so
// one broken plugin does not disable linting.
func (r *Registry) ScanDirectory(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, entry.Name(), "manifest.yaml")
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		if err := r.RegisterFromPath(ctx, manifestPath); err != nil {
			r.logger.Warn().
				Str("manifest", manifestPath).
				Err(err).
				Msg("Skipping lint plugin")
		}
	}

	return nil
}

// resolveVersion resolves a version constraint to a registered key.
// Supports exact versions, "latest" or empty, tilde ranges ("~1.0.0"
// matches 1.0.x), and caret ranges ("^1.0.0" matches 1.x.x). Callers
// hold the lock.
func (r *Registry) resolveVersion(name, version string) (string, error) {
	if version == "" || version == "latest" {
		return r.findLatestVersion(name)
	}
	if strings.HasPrefix(version, "~") {
		return r.findTildeVersion(name, version[1:])
	}
	if strings.HasPrefix(version, "^") {
		return r.findCaretVersion(name, version[1:])
	}

	key := buildPluginKey(name, version)
	if _, exists := r.manifests[key]; !exists {
		return "", fmt.Errorf("plugin %s not found", key)
	}
	return key, nil
}

// findLatestVersion finds the highest registered version of a plugin.
func (r *Registry) findLatestVersion(name string) (string, error) {
	var latest string
	for key := range r.manifests {
		if strings.HasPrefix(key, name+"@") {
			if latest == "" || key > latest {
				latest = key
			}
		}
	}
	if latest == "" {
		return "", fmt.Errorf("plugin %s not found", name)
	}
	return latest, nil
}

// findTildeVersion finds the highest version sharing major.minor.
func (r *Registry) findTildeVersion(name, version string) (string, error) {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("invalid version format: %s", version)
	}

	prefix := name + "@" + parts[0] + "." + parts[1]
	var match string
	for key := range r.manifests {
		if strings.HasPrefix(key, prefix) {
			if match == "" || key > match {
				match = key
			}
		}
	}
	if match == "" {
		return "", fmt.Errorf("no version matching ~%s found for plugin %s", version, name)
	}
	return match, nil
}

// findCaretVersion finds the highest version sharing the major.
func (r *Registry) findCaretVersion(name, version string) (string, error) {
	parts := strings.Split(version, ".")
	if len(parts) < 1 {
		return "", fmt.Errorf("invalid version format: %s", version)
	}

	prefix := name + "@" + parts[0]
	var match string
	for key := range r.manifests {
		if strings.HasPrefix(key, prefix) {
			if match == "" || key > match {
				match = key
			}
		}
	}
	if match == "" {
		return "", fmt.Errorf("no version matching ^%s found for plugin %s", version, name)
	}
	return match, nil
}

// buildPluginKey builds the registry key for a plugin.
func buildPluginKey(name, version string) string {
	return name + "@" + version
}

// keyName extracts the plugin name from a registry key.
func keyName(key string) string {
	if i := strings.LastIndex(key, "@"); i >= 0 {
		return key[:i]
	}
	return key
}
