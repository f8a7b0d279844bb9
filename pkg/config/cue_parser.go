package config

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// manifestPath is the top-level CUE field a manifest lives under.
const manifestPath = "manifest"

// ManifestParser parses and validates environment manifests written in
// CUE. Multiple sources unify before extraction, so a base manifest and
// an environment overlay can live in separate files.
type ManifestParser struct {
	ctx               *cue.Context
	schemaRegistry    *SchemaRegistry
	starlarkEvaluator *StarlarkEvaluator
	validator         *validator.Validate
}

// NewManifestParser creates a manifest parser with the built-in schema
// registry and a sandboxed Starlark evaluator for computed parameters.
func NewManifestParser() *ManifestParser {
	return &ManifestParser{
		ctx:               cuecontext.New(),
		schemaRegistry:    NewSchemaRegistry(),
		starlarkEvaluator: NewStarlarkEvaluator(10 * time.Second),
		validator:         validator.New(),
	}
}

// Parse parses manifest sources (files or directories) and returns the
// parsed manifest. Parse and validation problems are collected into
// ParsedManifest.Errors rather than aborting, so a caller can report
// every problem at once.
func (mp *ManifestParser) Parse(ctx context.Context, sources []string) (*ParsedManifest, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no manifest sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := mp.loadDirectory(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs := mp.loadFile(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, source)
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedManifest{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		return &ParsedManifest{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      mp.convertCUEErrors(err),
		}, nil
	}

	return mp.extractManifest(ctx, cueValue, sourceFiles)
}

// ParseInline parses inline CUE content. Used by tests and by `lander
// validate` when the manifest arrives on stdin.
func (mp *ManifestParser) ParseInline(ctx context.Context, content string) (*ParsedManifest, error) {
	val := mp.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &ParsedManifest{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      mp.convertCUEErrors(err),
		}, nil
	}

	return mp.extractManifest(ctx, val, []string{"inline"})
}

// loadDirectory loads a directory as a CUE package.
func (mp *ManifestParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, mp.convertCUEErrors(inst.Err)
	}

	val := mp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, mp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (mp *ManifestParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := mp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, mp.convertCUEErrors(err)
	}

	return val, nil
}

// extractManifest decodes the manifest from the unified CUE value,
// validates it, and evaluates computed parameters.
func (mp *ManifestParser) extractManifest(ctx context.Context, val cue.Value, sourceFiles []string) (*ParsedManifest, error) {
	parsed := &ParsedManifest{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	manifestVal := val.LookupPath(cue.ParsePath(manifestPath))
	if !manifestVal.Exists() {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     manifestPath,
			Message:  "no manifest block found",
			Severity: "error",
		})
		return parsed, nil
	}

	// Check the raw value against the closed schema before decoding:
	// Decode drops unknown fields, so a misspelled field would
	// otherwise vanish silently.
	if schema, ok := mp.schemaRegistry.GetSchema("manifest"); ok {
		if err := schema.Unify(manifestVal).Validate(cue.Concrete(true)); err != nil {
			parsed.Errors = append(parsed.Errors, mp.convertCUEErrors(err)...)
			return parsed, nil
		}
	}

	var manifest Manifest
	if err := manifestVal.Decode(&manifest); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     manifestPath,
			Message:  fmt.Sprintf("failed to decode manifest: %v", err),
			Severity: "error",
		})
		return parsed, nil
	}

	if err := mp.validator.Struct(manifest); err != nil {
		parsed.Errors = append(parsed.Errors, mp.convertStructErrors(err)...)
	}

	if len(parsed.Errors) == 0 && len(manifest.Computed) > 0 {
		if errs := mp.evaluateComputed(ctx, &manifest); len(errs) > 0 {
			parsed.Errors = append(parsed.Errors, errs...)
		}
	}

	if len(parsed.Errors) == 0 {
		parsed.Manifest = manifest
	}

	return parsed, nil
}

// evaluateComputed runs each computed-parameter script and merges the
// results into Parameters. Inline values win over computed ones; a
// script that does not assign `value` is an error. Scripts run in
// sorted name order so failures report deterministically.
func (mp *ManifestParser) evaluateComputed(ctx context.Context, manifest *Manifest) []ValidationError {
	var errs []ValidationError

	names := make([]string, 0, len(manifest.Computed))
	for name := range manifest.Computed {
		names = append(names, name)
	}
	sort.Strings(names)

	input := starlarkInput(manifest)

	for _, name := range names {
		if _, set := manifest.Parameters[name]; set {
			continue
		}

		result, err := mp.starlarkEvaluator.Evaluate(ctx, manifest.Computed[name], input)
		if err != nil {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("manifest.computed.%s", name),
				Message:  err.Error(),
				Severity: "error",
			})
			continue
		}

		value, ok := result.Output["value"]
		if !ok {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("manifest.computed.%s", name),
				Message:  "script did not assign value",
				Severity: "error",
			})
			continue
		}

		if manifest.Parameters == nil {
			manifest.Parameters = make(map[string]interface{})
		}
		manifest.Parameters[name] = value
	}

	return errs
}

// starlarkInput builds the env dict computed scripts see.
func starlarkInput(manifest *Manifest) map[string]interface{} {
	tiers := make(map[string]interface{}, len(manifest.Tiers))
	for svc, tier := range manifest.Tiers {
		tiers[svc] = tier
	}

	params := make(map[string]interface{}, len(manifest.Parameters))
	for k, v := range manifest.Parameters {
		params[k] = v
	}

	return map[string]interface{}{
		"env": map[string]interface{}{
			"environment":   manifest.Environment,
			"resourceGroup": manifest.ResourceGroup,
			"region":        manifest.Region,
			"tiers":         tiers,
			"parameters":    params,
			"frozen":        manifest.Frozen,
		},
	}
}

// convertStructErrors converts validator.ValidationErrors into manifest
// validation errors with CUE-style paths.
func (mp *ManifestParser) convertStructErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return []ValidationError{{
			Path:     manifestPath,
			Message:  err.Error(),
			Severity: "error",
		}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Path:     manifestPath + "." + structPath(fe.Namespace()),
			Message:  fmt.Sprintf("field fails %q constraint", fe.Tag()),
			Severity: "error",
		})
	}
	return out
}

// structPath lowers a validator namespace like "Manifest.Template.File"
// to the manifest's JSON casing ("template.file").
func structPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:] // drop the struct type name
	}
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToLower(p[:1]) + p[1:]
	}
	return strings.Join(parts, ".")
}

// convertCUEErrors converts CUE errors to ValidationError slice with
// source positions.
func (mp *ManifestParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// GetSchemaRegistry returns the schema registry.
func (mp *ManifestParser) GetSchemaRegistry() *SchemaRegistry {
	return mp.schemaRegistry
}

// FindManifests returns the .cue files under dir, sorted. Used by
// `lander dev` to enumerate watchable manifests.
func (mp *ManifestParser) FindManifests(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}
