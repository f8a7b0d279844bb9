package config

import (
	"fmt"
	"time"

	"github.com/openlander/openlander/pkg/engine"
)

// Manifest is one environment's deployment manifest, decoded from CUE.
// It names the environment, the content to deploy, the tiers each
// service should run at, and the budgets a run may spend.
type Manifest struct {
	// Environment is the environment name (e.g. "prod-east").
	Environment string `json:"environment" validate:"required,min=2,max=64"`

	// ResourceGroup is the resource group deployments land in.
	ResourceGroup string `json:"resourceGroup" validate:"required"`

	// Region pins region resolution to one region when non-empty.
	// Leave empty to let the resolver pick by capability and priority.
	Region string `json:"region,omitempty"`

	// Tiers maps each service to its desired tier. Tier vocabulary is
	// validated against the capability profiles at resolve time.
	Tiers map[string]string `json:"tiers" validate:"required,min=1,dive,keys,required,endkeys,required"`

	// Template locates the deployment content.
	Template TemplateConfig `json:"template" validate:"required"`

	// Budget bounds the retry and wall-clock spend of a run.
	Budget BudgetConfig `json:"budget"`

	// Parameters are inline parameter values for the apply call.
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// StoreParameters lists parameter keys resolved through the
	// per-environment parameter store when the request is built.
	StoreParameters []string `json:"storeParameters,omitempty" validate:"omitempty,dive,required"`

	// Computed maps parameter names to Starlark scripts evaluated at
	// parse time. Each script must assign `value`; the result is merged
	// into Parameters unless the name is already set inline.
	Computed map[string]string `json:"computed,omitempty"`

	// ProbeParams resolves placeholders in probe targets, such as the
	// deployed application hostname.
	ProbeParams map[string]string `json:"probeParams,omitempty"`

	// Frozen marks the environment as change-frozen. Policy denies
	// auto-remediation for frozen environments.
	Frozen bool `json:"frozen,omitempty"`

	// Metadata carries operator-supplied key-value pairs into run
	// records and audit payloads.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TemplateConfig locates the template and parameter file of a manifest.
type TemplateConfig struct {
	// Dir is the workspace directory remediation edits are confined to.
	Dir string `json:"dir" validate:"required"`

	// File is the template path, relative to Dir.
	File string `json:"file" validate:"required"`

	// Parameters is the parameter file path, relative to Dir. Empty
	// when the template takes no parameter file.
	Parameters string `json:"parameters,omitempty"`
}

// BudgetConfig bounds one run. Zero values fall back to the engine
// defaults when the request is normalized.
type BudgetConfig struct {
	// MaxAttempts bounds apply attempts per run.
	MaxAttempts int `json:"maxAttempts,omitempty" validate:"omitempty,min=1,max=25"`

	// MaxWallClock bounds total run duration, in Go duration syntax
	// (e.g. "30m").
	MaxWallClock string `json:"maxWallClock,omitempty"`
}

// WallClock parses the MaxWallClock string. Empty means zero, which the
// engine replaces with its default.
func (b BudgetConfig) WallClock() (time.Duration, error) {
	if b.MaxWallClock == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(b.MaxWallClock)
	if err != nil {
		return 0, fmt.Errorf("failed to parse maxWallClock %q: %w", b.MaxWallClock, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("maxWallClock %q is not positive", b.MaxWallClock)
	}
	return d, nil
}

// ParsedManifest is the result of parsing manifest sources. A manifest
// with a non-empty Errors slice must not be deployed.
type ParsedManifest struct {
	// Manifest is the decoded manifest. Zero-valued when Errors is
	// non-empty.
	Manifest Manifest `json:"manifest"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the sources were parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists parse and validation errors with positions.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Valid reports whether the manifest parsed without errors.
func (pm *ParsedManifest) Valid() bool {
	return len(pm.Errors) == 0
}

// ValidationError is a manifest error with source location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g. "manifest.tiers").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// Error renders the validation error with its position when known.
func (e ValidationError) Error() string {
	if e.File != "" && e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Spec converts the manifest into the request spec the engine's request
// builder consumes. Computed parameters must already be merged (the
// parser does this); WallClock must parse.
func (m *Manifest) Spec() (engine.RequestSpec, error) {
	wall, err := m.Budget.WallClock()
	if err != nil {
		return engine.RequestSpec{}, err
	}

	return engine.RequestSpec{
		Environment:   m.Environment,
		ResourceGroup: m.ResourceGroup,
		Region:        m.Region,
		Tiers:         m.Tiers,
		Template: engine.TemplateRef{
			WorkspaceDir:   m.Template.Dir,
			TemplatePath:   m.Template.File,
			ParametersPath: m.Template.Parameters,
		},
		Parameters:      m.Parameters,
		StoreParameters: m.StoreParameters,
		MaxAttempts:     m.Budget.MaxAttempts,
		MaxWallClock:    wall,
		ProbeParams:     m.ProbeParams,
		Frozen:          m.Frozen,
		Metadata:        m.Metadata,
	}, nil
}
