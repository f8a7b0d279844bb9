package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for manifest validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in
// manifest schemas registered.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("manifest", builtinManifestSchema)
	sr.RegisterSchema("template", builtinTemplateSchema)
	sr.RegisterSchema("budget", builtinBudgetSchema)
}

// RegisterSchema registers a CUE schema under the given name. When the
// schema declares a definition named after the schema (e.g. #Manifest
// for "manifest"), validation runs against that definition so unknown
// fields are rejected; otherwise the whole compiled value is used.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	if def := val.LookupPath(cue.ParsePath("#" + titleCase(name))); def.Exists() {
		val = def
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// titleCase upper-cases the first letter of a schema name.
func titleCase(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// Built-in schema definitions

const builtinManifestSchema = `
// Environment deployment manifest
#Manifest: {
	// environment is the environment name
	environment: string & =~"^[a-z][a-z0-9-]{0,62}[a-z0-9]$"

	// resourceGroup is the resource group deployments land in
	resourceGroup: string & =~"^[a-zA-Z0-9._()-]+$"

	// region pins resolution to one region when set
	region?: string & =~"^[a-z][a-z0-9]+$"

	// tiers maps service name to desired tier
	tiers: {[=~"^[a-z][a-z0-9_]*$"]: string & =~"^[a-z][a-z0-9_]*$"}

	// template locates the deployment content
	template: #Template

	// budget bounds retry and wall-clock spend
	budget?: #Budget

	// parameters are inline apply parameters
	parameters?: {[string]: _}

	// storeParameters are resolved via the parameter store
	storeParameters?: [...string]

	// computed maps parameter names to Starlark scripts
	computed?: {[string]: string}

	// probeParams resolve placeholders in probe targets
	probeParams?: {[string]: string}

	// frozen denies auto-remediation for this environment
	frozen?: bool

	// metadata carries operator key-value pairs into run records
	metadata?: {[string]: string}
}

#Template: {
	dir:         string
	file:        string
	parameters?: string
}

#Budget: {
	maxAttempts?:  int & >=1 & <=25
	maxWallClock?: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
}
`

const builtinTemplateSchema = `
// Template reference
#Template: {
	// dir is the workspace directory
	dir: string

	// file is the template path relative to dir
	file: string

	// parameters is the parameter file path relative to dir
	parameters?: string
}
`

const builtinBudgetSchema = `
// Run budget
#Budget: {
	// maxAttempts bounds apply attempts per run
	maxAttempts?: int & >=1 & <=25

	// maxWallClock bounds total run duration (Go duration syntax)
	maxWallClock?: string
}
`

// ValidateManifest validates a manifest against the manifest schema.
func (sr *SchemaRegistry) ValidateManifest(ctx context.Context, manifest Manifest) error {
	return sr.ValidateAgainstSchema(ctx, "manifest", manifest)
}

// ValidateTemplate validates a template reference against the template
// schema.
func (sr *SchemaRegistry) ValidateTemplate(ctx context.Context, template TemplateConfig) error {
	return sr.ValidateAgainstSchema(ctx, "template", template)
}

// ValidateBudget validates a budget block against the budget schema.
func (sr *SchemaRegistry) ValidateBudget(ctx context.Context, budget BudgetConfig) error {
	return sr.ValidateAgainstSchema(ctx, "budget", budget)
}
