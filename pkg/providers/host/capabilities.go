package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Capabilities a lint plugin may request. Each one gates a host
// function; a plugin that calls a function without the capability gets
// an error result, not the data.
const (
	// CapabilityTemplateRead lets the plugin read template and
	// parameter files inside the workspace.
	CapabilityTemplateRead = "template:read"

	// CapabilityLog lets the plugin emit log lines through the host
	// logger.
	CapabilityLog = "log"
)

func knownCapability(name string) bool {
	return name == CapabilityTemplateRead || name == CapabilityLog
}

// CapabilityEnforcer gates host functions on the capabilities a plugin
// manifest declares and contains file reads to the workspace.
type CapabilityEnforcer struct {
	granted      map[string]bool
	workspaceDir string
	logger       zerolog.Logger
}

// NewCapabilityEnforcer creates an enforcer granting the given
// capabilities. workspaceDir is the containment root for template
// reads; empty denies all reads.
func NewCapabilityEnforcer(capabilities []string, workspaceDir string, logger zerolog.Logger) *CapabilityEnforcer {
	enforcer := &CapabilityEnforcer{
		granted:      make(map[string]bool, len(capabilities)),
		workspaceDir: filepath.Clean(workspaceDir),
		logger:       logger,
	}
	for _, capability := range capabilities {
		enforcer.granted[capability] = true
	}
	return enforcer
}

// Has checks if a capability is granted.
func (e *CapabilityEnforcer) Has(capability string) bool {
	return e.granted[capability]
}

// Validate checks that every requested capability is granted.
func (e *CapabilityEnforcer) Validate(requested []string) error {
	var missing []string
	for _, capability := range requested {
		if !e.granted[capability] {
			missing = append(missing, capability)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required capabilities: %v", missing)
	}
	return nil
}

// ReadTemplate reads a workspace file for the plugin. The path is
// resolved against the workspace root and must stay inside it.
func (e *CapabilityEnforcer) ReadTemplate(path string) ([]byte, error) {
	if !e.Has(CapabilityTemplateRead) {
		return nil, fmt.Errorf("capability %s not granted", CapabilityTemplateRead)
	}
	if e.workspaceDir == "" || e.workspaceDir == "." {
		return nil, fmt.Errorf("no workspace configured for template reads")
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(e.workspaceDir, resolved)
	}
	resolved = filepath.Clean(resolved)

	// Contain reads to the workspace.
	if resolved != e.workspaceDir && !strings.HasPrefix(resolved, e.workspaceDir+string(filepath.Separator)) {
		return nil, fmt.Errorf("path %s escapes the workspace", path)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return data, nil
}

// Log levels a plugin may use with the log host function.
const (
	logLevelDebug = 0
	logLevelInfo  = 1
	logLevelWarn  = 2
	logLevelError = 3
)

// Log emits a plugin log line through the host logger. Plugins without
// the log capability are silently muted rather than failed; losing a
// log line never breaks a lint pass.
func (e *CapabilityEnforcer) Log(plugin string, level uint32, message string) {
	if !e.Has(CapabilityLog) {
		return
	}

	event := e.logger.Debug()
	switch level {
	case logLevelInfo:
		event = e.logger.Info()
	case logLevelWarn:
		event = e.logger.Warn()
	case logLevelError:
		event = e.logger.Error()
	}
	event.Str("plugin", plugin).Msg(message)
}
