package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validManifest = `
manifest: {
	environment:   "prod-east"
	resourceGroup: "rg-payments-prod"
	region:        "eastus2"

	tiers: {
		functions: "premium"
		storage:   "standard_zrs"
	}

	template: {
		dir:        "."
		file:       "main.bicep"
		parameters: "prod.parameters.json"
	}

	budget: {
		maxAttempts:  4
		maxWallClock: "20m"
	}

	parameters: {
		appName: "payments"
	}

	probeParams: {
		app: "payments-prod"
	}

	metadata: {
		team: "payments"
	}
}
`

func TestManifestParser_ParseInline(t *testing.T) {
	parser := NewManifestParser()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErrs  bool
		checkFunc func(*testing.T, *ParsedManifest)
	}{
		{
			name:    "valid manifest",
			content: validManifest,
			checkFunc: func(t *testing.T, pm *ParsedManifest) {
				m := pm.Manifest
				if m.Environment != "prod-east" {
					t.Errorf("environment = %q, want prod-east", m.Environment)
				}
				if m.ResourceGroup != "rg-payments-prod" {
					t.Errorf("resourceGroup = %q, want rg-payments-prod", m.ResourceGroup)
				}
				if m.Tiers["functions"] != "premium" {
					t.Errorf("tiers.functions = %q, want premium", m.Tiers["functions"])
				}
				if m.Template.File != "main.bicep" {
					t.Errorf("template.file = %q, want main.bicep", m.Template.File)
				}
				if m.Budget.MaxAttempts != 4 {
					t.Errorf("budget.maxAttempts = %d, want 4", m.Budget.MaxAttempts)
				}
			},
		},
		{
			name: "invalid CUE syntax",
			content: `
manifest: {
	environment: "prod-east"
	invalid syntax here
}
`,
			wantErrs: true,
		},
		{
			name: "no manifest block",
			content: `
deployment: {
	environment: "prod-east"
}
`,
			wantErrs: true,
		},
		{
			name: "missing resource group",
			content: `
manifest: {
	environment: "prod-east"
	tiers: {functions: "standard"}
	template: {dir: ".", file: "main.bicep"}
}
`,
			wantErrs: true,
		},
		{
			name: "missing tiers",
			content: `
manifest: {
	environment:   "prod-east"
	resourceGroup: "rg-x"
	template: {dir: ".", file: "main.bicep"}
}
`,
			wantErrs: true,
		},
		{
			name: "unknown field rejected",
			content: `
manifest: {
	environment:   "prod-east"
	resourceGroup: "rg-x"
	tiers: {functions: "standard"}
	template: {dir: ".", file: "main.bicep"}
	regionn: "eastus2"
}
`,
			wantErrs: true,
		},
		{
			name: "uppercase environment rejected",
			content: `
manifest: {
	environment:   "Prod-East"
	resourceGroup: "rg-x"
	tiers: {functions: "standard"}
	template: {dir: ".", file: "main.bicep"}
}
`,
			wantErrs: true,
		},
		{
			name: "bad wall clock rejected",
			content: `
manifest: {
	environment:   "prod-east"
	resourceGroup: "rg-x"
	tiers: {functions: "standard"}
	template: {dir: ".", file: "main.bicep"}
	budget: {maxWallClock: "twenty minutes"}
}
`,
			wantErrs: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, err := parser.ParseInline(ctx, tt.content)
			if err != nil {
				t.Fatalf("ParseInline returned error: %v", err)
			}

			if tt.wantErrs {
				if pm.Valid() {
					t.Fatalf("expected validation errors, got none")
				}
				return
			}

			if !pm.Valid() {
				t.Fatalf("unexpected validation errors: %v", pm.Errors)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, pm)
			}
		})
	}
}

func TestManifestParser_ComputedParameters(t *testing.T) {
	parser := NewManifestParser()
	ctx := context.Background()

	content := `
manifest: {
	environment:   "prod-east"
	resourceGroup: "rg-x"
	tiers: {functions: "standard"}
	template: {dir: ".", file: "main.bicep"}
	parameters: {
		appName: "payments"
	}
	computed: {
		storageAccount: #"value = env["environment"].replace("-", "") + "st""#
		appName:        #"value = "never-used""#
	}
}
`

	pm, err := parser.ParseInline(ctx, content)
	if err != nil {
		t.Fatalf("ParseInline returned error: %v", err)
	}
	if !pm.Valid() {
		t.Fatalf("unexpected validation errors: %v", pm.Errors)
	}

	got, ok := pm.Manifest.Parameters["storageAccount"]
	if !ok {
		t.Fatal("computed parameter storageAccount not merged")
	}
	if got != "prodeastst" {
		t.Errorf("storageAccount = %v, want prodeastst", got)
	}

	// Inline values win over computed ones.
	if pm.Manifest.Parameters["appName"] != "payments" {
		t.Errorf("appName = %v, want inline value payments", pm.Manifest.Parameters["appName"])
	}
}

func TestManifestParser_ComputedScriptErrors(t *testing.T) {
	parser := NewManifestParser()
	ctx := context.Background()

	tests := []struct {
		name   string
		script string
	}{
		{name: "syntax error", script: `value = = 1`},
		{name: "no value assigned", script: `other = "x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := `
manifest: {
	environment:   "prod-east"
	resourceGroup: "rg-x"
	tiers: {functions: "standard"}
	template: {dir: ".", file: "main.bicep"}
	computed: {bad: ` + "#\"" + tt.script + "\"#" + `}
}
`
			pm, err := parser.ParseInline(ctx, content)
			if err != nil {
				t.Fatalf("ParseInline returned error: %v", err)
			}
			if pm.Valid() {
				t.Fatal("expected computed script error, got none")
			}
		})
	}
}

func TestManifestParser_ParseFile(t *testing.T) {
	parser := NewManifestParser()
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "prod-east.cue")
	if err := os.WriteFile(path, []byte(validManifest), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	pm, err := parser.Parse(ctx, []string{path})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !pm.Valid() {
		t.Fatalf("unexpected validation errors: %v", pm.Errors)
	}
	if pm.Manifest.Environment != "prod-east" {
		t.Errorf("environment = %q, want prod-east", pm.Manifest.Environment)
	}
	if len(pm.SourceFiles) != 1 || pm.SourceFiles[0] != path {
		t.Errorf("source files = %v, want [%s]", pm.SourceFiles, path)
	}
}

func TestManifestParser_ParseMissingFile(t *testing.T) {
	parser := NewManifestParser()

	_, err := parser.Parse(context.Background(), []string{"/does/not/exist.cue"})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestManifest_Spec(t *testing.T) {
	parser := NewManifestParser()

	pm, err := parser.ParseInline(context.Background(), validManifest)
	if err != nil {
		t.Fatalf("ParseInline returned error: %v", err)
	}
	if !pm.Valid() {
		t.Fatalf("unexpected validation errors: %v", pm.Errors)
	}

	spec, err := pm.Manifest.Spec()
	if err != nil {
		t.Fatalf("Spec returned error: %v", err)
	}

	if spec.Environment != "prod-east" {
		t.Errorf("spec environment = %q, want prod-east", spec.Environment)
	}
	if spec.Region != "eastus2" {
		t.Errorf("spec region = %q, want eastus2", spec.Region)
	}
	if spec.Template.TemplatePath != "main.bicep" {
		t.Errorf("spec template path = %q, want main.bicep", spec.Template.TemplatePath)
	}
	if spec.MaxAttempts != 4 {
		t.Errorf("spec max attempts = %d, want 4", spec.MaxAttempts)
	}
	if spec.MaxWallClock != 20*time.Minute {
		t.Errorf("spec wall clock = %v, want 20m", spec.MaxWallClock)
	}
	if spec.ProbeParams["app"] != "payments-prod" {
		t.Errorf("spec probe params = %v, want app=payments-prod", spec.ProbeParams)
	}
}

func TestManifestParser_FindManifests(t *testing.T) {
	parser := NewManifestParser()

	dir := t.TempDir()
	for _, name := range []string{"b.cue", "a.cue", "notes.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x: 1\n"), 0o644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}

	files, err := parser.FindManifests(dir)
	if err != nil {
		t.Fatalf("FindManifests returned error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("found %d files, want 2", len(files))
	}
	if filepath.Base(files[0]) != "a.cue" || filepath.Base(files[1]) != "b.cue" {
		t.Errorf("files not sorted: %v", files)
	}
}
