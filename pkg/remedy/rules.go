package remedy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/openlander/openlander/pkg/classify"
)

// armSchemaURL is the schema declaration inserted for templates that
// are missing one.
const armSchemaURL = "https://schema.management.azure.com/schemas/2019-04-01/deploymentTemplate.json#"

// maxSnippetLen bounds the before/after snippets carried in a FixRecord.
const maxSnippetLen = 160

// Target names the content files a deployment is built from. Paths are
// relative to the workspace root.
type Target struct {
	// TemplatePath is the declarative template.
	TemplatePath string

	// ParametersPath is the environment parameter file.
	ParametersPath string
}

// Request carries everything a rule may consult when matching and
// fixing one classified failure.
type Request struct {
	// Record is the classification of the failed attempt.
	Record *classify.Record

	// Raw is the attempt's full diagnostic output. Some fixers extract
	// details from it that the classification does not carry, such as
	// the name of a missing module.
	Raw string

	// Target names the deployment content files.
	Target Target
}

// Edit describes the bounded content change a fixer performed.
type Edit struct {
	Path   string
	Line   int
	Before string
	After  string
}

// Rule is one entry in the remediation table.
type Rule struct {
	// ID uniquely names the rule.
	ID string

	// Kind is the error kind the rule repairs.
	Kind classify.Kind

	// Risk gates autonomous application.
	Risk Risk

	// Summary describes the fix in one line.
	Summary string

	// Matches reports whether the rule applies to the failure.
	Matches func(req *Request) bool

	// Fixed reports whether the target already has the post-fix shape.
	// A true result makes the fix a no-op, which keeps re-entrant
	// retries from editing the same content twice.
	Fixed func(ws Workspace, req *Request) (bool, error)

	// Apply performs the edit and reports what changed.
	Apply func(ws Workspace, req *Request) (*Edit, error)
}

var (
	trailingCommaEvidence = "trailing comma"
	providedValueRE       = regexp.MustCompile(`provided value '([^']+)'`)
	parameterNameRE       = regexp.MustCompile(`parameter '([^']+)'`)
	missingModuleRE       = regexp.MustCompile(`[Nn]o module named '([^']+)'`)
)

// builtinRules returns the remediation table in priority order. The
// order is part of the contract: Registry.Find returns the first rule
// whose matcher accepts the failure, and exactly one rule fires per
// attempt.
func builtinRules() []Rule {
	return []Rule{
		{
			ID:      "tmpl-add-schema",
			Kind:    classify.KindTemplateSyntax,
			Risk:    RiskLow,
			Summary: "insert the required $schema and contentVersion declarations",
			Matches: func(req *Request) bool {
				return req.Record.RuleID == "tmpl-missing-schema"
			},
			Fixed: func(ws Workspace, req *Request) (bool, error) {
				data, err := ws.ReadFile(templatePath(req))
				if err != nil {
					return false, err
				}
				return bytes.Contains(data, []byte(`"$schema"`)) &&
					bytes.Contains(data, []byte(`"contentVersion"`)), nil
			},
			Apply: applyAddSchema,
		},
		{
			ID:      "tmpl-strip-trailing-comma",
			Kind:    classify.KindTemplateSyntax,
			Risk:    RiskLow,
			Summary: "remove commas that precede a closing brace or bracket",
			Matches: func(req *Request) bool {
				return req.Record.RuleID == "tmpl-json-parse" &&
					strings.Contains(strings.ToLower(req.Raw), trailingCommaEvidence)
			},
			Fixed: func(ws Workspace, req *Request) (bool, error) {
				data, err := ws.ReadFile(templatePath(req))
				if err != nil {
					return false, err
				}
				_, _, changed := stripTrailingCommas(data)
				return !changed, nil
			},
			Apply: applyStripTrailingCommas,
		},
		{
			ID:      "param-prune-null",
			Kind:    classify.KindParameterInvalid,
			Risk:    RiskLow,
			Summary: "drop null-valued parameters so template defaults apply",
			Matches: func(req *Request) bool {
				if req.Record.RuleID == "param-null-value" {
					return true
				}
				return req.Record.RuleID == "param-invalid-value" &&
					strings.Contains(strings.ToLower(req.Raw), "is null")
			},
			Fixed: func(ws Workspace, req *Request) (bool, error) {
				data, err := ws.ReadFile(parametersPath(req))
				if err != nil {
					return false, err
				}
				_, pruned, err := pruneNullParameters(data)
				if err != nil {
					return false, err
				}
				return len(pruned) == 0, nil
			},
			Apply: applyPruneNullParameters,
		},
		{
			ID:      "param-widen-allowed",
			Kind:    classify.KindParameterInvalid,
			Risk:    RiskMedium,
			Summary: "add the rejected value to the parameter's allowed set",
			Matches: func(req *Request) bool {
				return req.Record.RuleID == "param-not-allowed" &&
					providedValueRE.MatchString(req.Raw) &&
					parameterNameRE.MatchString(req.Raw)
			},
			Fixed: func(ws Workspace, req *Request) (bool, error) {
				data, err := ws.ReadFile(req.Target.TemplatePath)
				if err != nil {
					return false, err
				}
				value := providedValueRE.FindStringSubmatch(req.Raw)[1]
				name := parameterNameRE.FindStringSubmatch(req.Raw)[1]
				allowed, err := allowedValues(data, name)
				if err != nil {
					return false, nil
				}
				for _, v := range allowed {
					if s, ok := v.(string); ok && s == value {
						return true, nil
					}
				}
				return false, nil
			},
			Apply: applyWidenAllowed,
		},
		{
			ID:      "script-fix-tabs",
			Kind:    classify.KindScriptDefect,
			Risk:    RiskLow,
			Summary: "expand tab indentation to spaces",
			Matches: func(req *Request) bool {
				return req.Record.RuleID == "script-indentation" && req.Record.File != ""
			},
			Fixed: func(ws Workspace, req *Request) (bool, error) {
				data, err := ws.ReadFile(req.Record.File)
				if err != nil {
					return false, err
				}
				_, _, changed := expandLeadingTabs(data)
				return !changed, nil
			},
			Apply: applyExpandTabs,
		},
		{
			ID:      "script-add-import",
			Kind:    classify.KindScriptDefect,
			Risk:    RiskMedium,
			Summary: "add the missing import statement",
			Matches: func(req *Request) bool {
				return req.Record.RuleID == "script-import" &&
					req.Record.File != "" &&
					missingModuleRE.MatchString(req.Raw)
			},
			Fixed: func(ws Workspace, req *Request) (bool, error) {
				data, err := ws.ReadFile(req.Record.File)
				if err != nil {
					return false, err
				}
				module := missingModuleRE.FindStringSubmatch(req.Raw)[1]
				importRE := regexp.MustCompile(`(?m)^\s*(?:import|from)\s+` + regexp.QuoteMeta(module) + `\b`)
				return importRE.Match(data), nil
			},
			Apply: applyAddImport,
		},
		{
			ID:      "script-comment-line",
			Kind:    classify.KindScriptDefect,
			Risk:    RiskHigh,
			Summary: "comment out the failing script line",
			Matches: func(req *Request) bool {
				switch req.Record.RuleID {
				case "script-name", "script-syntax":
					return req.Record.File != "" && req.Record.Line > 0
				}
				return false
			},
			Fixed: func(ws Workspace, req *Request) (bool, error) {
				data, err := ws.ReadFile(req.Record.File)
				if err != nil {
					return false, err
				}
				line := lineAt(data, req.Record.Line)
				return strings.HasPrefix(strings.TrimSpace(line), "#"), nil
			},
			Apply: applyCommentLine,
		},
	}
}

func applyAddSchema(ws Workspace, req *Request) (*Edit, error) {
	path := templatePath(req)
	data, err := ws.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx := bytes.IndexByte(data, '{')
	if idx < 0 {
		return nil, fmt.Errorf("template %s is not a JSON object", path)
	}

	var decls []string
	if !bytes.Contains(data, []byte(`"$schema"`)) {
		decls = append(decls, fmt.Sprintf("  %q: %q", "$schema", armSchemaURL))
	}
	if !bytes.Contains(data, []byte(`"contentVersion"`)) {
		decls = append(decls, `  "contentVersion": "1.0.0.0"`)
	}
	if len(decls) == 0 {
		return nil, fmt.Errorf("template %s already declares $schema and contentVersion", path)
	}

	// An empty object must not end up with a trailing comma.
	rest := bytes.TrimLeft(data[idx+1:], " \t\r\n")
	joined := strings.Join(decls, ",\n")
	if len(rest) == 0 || rest[0] != '}' {
		joined += ","
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + len(joined) + 1)
	buf.Write(data[:idx+1])
	buf.WriteString("\n")
	buf.WriteString(joined)
	buf.Write(data[idx+1:])
	if err := ws.WriteFile(path, buf.Bytes()); err != nil {
		return nil, err
	}
	return &Edit{
		Path:   path,
		Line:   1,
		Before: snippet(lineAt(data, 1)),
		After:  snippet(strings.TrimSpace(joined)),
	}, nil
}

func applyStripTrailingCommas(ws Workspace, req *Request) (*Edit, error) {
	path := templatePath(req)
	data, err := ws.ReadFile(path)
	if err != nil {
		return nil, err
	}
	stripped, line, changed := stripTrailingCommas(data)
	if !changed {
		return nil, fmt.Errorf("template %s has no trailing commas", path)
	}
	if err := ws.WriteFile(path, stripped); err != nil {
		return nil, err
	}
	return &Edit{
		Path:   path,
		Line:   line,
		Before: snippet(lineAt(data, line)),
		After:  snippet(lineAt(stripped, line)),
	}, nil
}

func applyPruneNullParameters(ws Workspace, req *Request) (*Edit, error) {
	path := parametersPath(req)
	data, err := ws.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rewritten, pruned, err := pruneNullParameters(data)
	if err != nil {
		return nil, err
	}
	if len(pruned) == 0 {
		return nil, fmt.Errorf("parameter file %s has no null parameters", path)
	}
	if err := ws.WriteFile(path, rewritten); err != nil {
		return nil, err
	}
	return &Edit{
		Path:   path,
		Before: snippet(strings.Join(pruned, ", ")),
		After:  "",
	}, nil
}

func applyWidenAllowed(ws Workspace, req *Request) (*Edit, error) {
	path := req.Target.TemplatePath
	data, err := ws.ReadFile(path)
	if err != nil {
		return nil, err
	}
	value := providedValueRE.FindStringSubmatch(req.Raw)[1]
	name := parameterNameRE.FindStringSubmatch(req.Raw)[1]

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
	}
	params, ok := doc["parameters"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("template %s declares no parameters", path)
	}
	entry, ok := params[name].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("template %s has no parameter %q", path, name)
	}
	allowed, ok := entry["allowedValues"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("parameter %q has no allowedValues to widen", name)
	}

	before, _ := json.Marshal(allowed)
	allowed = append(allowed, value)
	entry["allowedValues"] = allowed
	after, _ := json.Marshal(allowed)

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode template %s: %w", path, err)
	}
	out = append(out, '\n')
	if err := ws.WriteFile(path, out); err != nil {
		return nil, err
	}
	return &Edit{
		Path:   path,
		Before: snippet(string(before)),
		After:  snippet(string(after)),
	}, nil
}

func applyExpandTabs(ws Workspace, req *Request) (*Edit, error) {
	path := req.Record.File
	data, err := ws.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded, line, changed := expandLeadingTabs(data)
	if !changed {
		return nil, fmt.Errorf("script %s has no tab indentation", path)
	}
	if err := ws.WriteFile(path, expanded); err != nil {
		return nil, err
	}
	return &Edit{
		Path:   path,
		Line:   line,
		Before: snippet(lineAt(data, line)),
		After:  snippet(lineAt(expanded, line)),
	}, nil
}

func applyAddImport(ws Workspace, req *Request) (*Edit, error) {
	path := req.Record.File
	data, err := ws.ReadFile(path)
	if err != nil {
		return nil, err
	}
	module := missingModuleRE.FindStringSubmatch(req.Raw)[1]

	lines := strings.Split(string(data), "\n")
	insertAt := 0
	for i, line := range lines {
		if strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "from ") {
			insertAt = i + 1
		}
	}
	if insertAt == 0 && len(lines) > 0 && strings.HasPrefix(lines[0], "#!") {
		insertAt = 1
	}

	stmt := "import " + module
	lines = append(lines[:insertAt], append([]string{stmt}, lines[insertAt:]...)...)
	if err := ws.WriteFile(path, []byte(strings.Join(lines, "\n"))); err != nil {
		return nil, err
	}
	return &Edit{
		Path:  path,
		Line:  insertAt + 1,
		After: stmt,
	}, nil
}

func applyCommentLine(ws Workspace, req *Request) (*Edit, error) {
	path := req.Record.File
	data, err := ws.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	if req.Record.Line > len(lines) {
		return nil, fmt.Errorf("diagnostic points past the end of %s", path)
	}
	orig := lines[req.Record.Line-1]
	indent := orig[:len(orig)-len(strings.TrimLeft(orig, " \t"))]
	lines[req.Record.Line-1] = indent + "# " + strings.TrimLeft(orig, " \t")
	if err := ws.WriteFile(path, []byte(strings.Join(lines, "\n"))); err != nil {
		return nil, err
	}
	return &Edit{
		Path:   path,
		Line:   req.Record.Line,
		Before: snippet(orig),
		After:  snippet(lines[req.Record.Line-1]),
	}, nil
}

// stripTrailingCommas removes commas that directly precede a closing
// brace or bracket, skipping string literals. It returns the rewritten
// content, the 1-based line of the first removal, and whether anything
// changed.
func stripTrailingCommas(data []byte) ([]byte, int, bool) {
	var out bytes.Buffer
	out.Grow(len(data))
	inString := false
	escaped := false
	line := 1
	firstLine := 0
	changed := false

	for i := 0; i < len(data); i++ {
		c := data[i]
		if c == '\n' {
			line++
		}
		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			out.WriteByte(c)
		case ',':
			j := i + 1
			for j < len(data) && (data[j] == ' ' || data[j] == '\t' || data[j] == '\r' || data[j] == '\n') {
				j++
			}
			if j < len(data) && (data[j] == '}' || data[j] == ']') {
				changed = true
				if firstLine == 0 {
					firstLine = line
				}
				continue
			}
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}
	return out.Bytes(), firstLine, changed
}

// pruneNullParameters removes parameter entries whose value is an
// explicit null. It returns the rewritten file and the sorted names of
// the pruned parameters. Entries without a value key, such as key vault
// references, are kept as they are.
func pruneNullParameters(data []byte) ([]byte, []string, error) {
	var doc struct {
		Schema         string                     `json:"$schema,omitempty"`
		ContentVersion string                     `json:"contentVersion,omitempty"`
		Parameters     map[string]json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse parameter file: %w", err)
	}

	var pruned []string
	for name, raw := range doc.Parameters {
		var entry struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if string(bytes.TrimSpace(entry.Value)) == "null" {
			pruned = append(pruned, name)
		}
	}
	if len(pruned) == 0 {
		return data, nil, nil
	}
	sort.Strings(pruned)
	for _, name := range pruned {
		delete(doc.Parameters, name)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode parameter file: %w", err)
	}
	return append(out, '\n'), pruned, nil
}

// expandLeadingTabs rewrites each line's leading whitespace with tabs
// expanded to four spaces. It returns the rewritten content, the
// 1-based line of the first change, and whether anything changed.
func expandLeadingTabs(data []byte) ([]byte, int, bool) {
	lines := strings.Split(string(data), "\n")
	firstLine := 0
	for i, line := range lines {
		indentEnd := 0
		for indentEnd < len(line) && (line[indentEnd] == ' ' || line[indentEnd] == '\t') {
			indentEnd++
		}
		indent := line[:indentEnd]
		if !strings.Contains(indent, "\t") {
			continue
		}
		lines[i] = strings.ReplaceAll(indent, "\t", "    ") + line[indentEnd:]
		if firstLine == 0 {
			firstLine = i + 1
		}
	}
	if firstLine == 0 {
		return data, 0, false
	}
	return []byte(strings.Join(lines, "\n")), firstLine, true
}

func allowedValues(data []byte, name string) ([]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	params, ok := doc["parameters"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("no parameters block")
	}
	entry, ok := params[name].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("no parameter %q", name)
	}
	allowed, ok := entry["allowedValues"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("no allowedValues for %q", name)
	}
	return allowed, nil
}

// templatePath prefers the diagnostic's locator over the configured
// template path so fixes land on the file the platform complained about.
func templatePath(req *Request) string {
	if req.Record.File != "" {
		return req.Record.File
	}
	return req.Target.TemplatePath
}

func parametersPath(req *Request) string {
	if req.Record.File != "" {
		return req.Record.File
	}
	return req.Target.ParametersPath
}

// lineAt returns the 1-based line n of data, empty when out of range.
func lineAt(data []byte, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	if n > len(lines) {
		return ""
	}
	return lines[n-1]
}

// snippet bounds a before/after excerpt, cutting on a rune boundary so
// fix records stay valid UTF-8.
func snippet(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if len(s) <= maxSnippetLen {
		return s
	}
	cut := maxSnippetLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
