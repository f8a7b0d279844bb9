package engine

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Toolchain bundles the applier and validator for one template format.
// The azcli provider registers as "azcli" and covers .bicep and ARM
// .json templates.
type Toolchain struct {
	// Name identifies the toolchain in logs and errors.
	Name string

	// Applier submits content through this toolchain.
	Applier TemplateApplier

	// Validator checks content through this toolchain.
	Validator TemplateValidator
}

// ToolchainRegistry resolves which toolchain handles a template. A
// toolchain registers with the template extensions it owns; resolution
// goes by the template path's extension, falling back to the default
// toolchain when the extension is unclaimed.
type ToolchainRegistry struct {
	mu          sync.RWMutex
	byName      map[string]*Toolchain
	byExt       map[string]string
	defaultName string
}

// NewToolchainRegistry creates an empty registry.
func NewToolchainRegistry() *ToolchainRegistry {
	return &ToolchainRegistry{
		byName: make(map[string]*Toolchain),
		byExt:  make(map[string]string),
	}
}

// Register adds a toolchain and claims the given extensions (with
// leading dot, e.g. ".bicep"). The first registered toolchain becomes
// the default.
func (r *ToolchainRegistry) Register(tc *Toolchain, extensions ...string) error {
	if tc == nil || tc.Name == "" {
		return fmt.Errorf("toolchain has no name")
	}
	if tc.Applier == nil || tc.Validator == nil {
		return fmt.Errorf("toolchain %s is missing an applier or validator", tc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[tc.Name]; exists {
		return fmt.Errorf("toolchain %s already registered", tc.Name)
	}

	for _, ext := range extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
		if owner, claimed := r.byExt[strings.ToLower(ext)]; claimed {
			return fmt.Errorf("extension %s already claimed by toolchain %s", ext, owner)
		}
	}

	r.byName[tc.Name] = tc
	for _, ext := range extensions {
		r.byExt[strings.ToLower(ext)] = tc.Name
	}
	if r.defaultName == "" {
		r.defaultName = tc.Name
	}
	return nil
}

// SetDefault changes the fallback toolchain.
func (r *ToolchainRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("toolchain %s not registered", name)
	}
	r.defaultName = name
	return nil
}

// Get returns a toolchain by name.
func (r *ToolchainRegistry) Get(name string) (*Toolchain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tc, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("toolchain %s not registered", name)
	}
	return tc, nil
}

// ResolveFor picks the toolchain for a template by its extension.
func (r *ToolchainRegistry) ResolveFor(ref TemplateRef) (*Toolchain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext := strings.ToLower(filepath.Ext(ref.TemplatePath))
	if name, ok := r.byExt[ext]; ok {
		return r.byName[name], nil
	}
	if r.defaultName != "" {
		return r.byName[r.defaultName], nil
	}
	return nil, fmt.Errorf("no toolchain registered for template %s", ref.TemplatePath)
}

// Names returns the registered toolchain names, sorted.
func (r *ToolchainRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
