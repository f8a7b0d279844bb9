package remedy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/openlander/openlander/pkg/classify"
)

func newTestWorkspace(t *testing.T) (*DirWorkspace, string) {
	t.Helper()
	dir := t.TempDir()
	ws, err := NewDirWorkspace(dir)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return ws, dir
}

func writeContent(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
}

func builtinRule(t *testing.T, id string) *Rule {
	t.Helper()
	rules := builtinRules()
	for i := range rules {
		if rules[i].ID == id {
			return &rules[i]
		}
	}
	t.Fatalf("No builtin rule %s", id)
	return nil
}

func TestAddSchemaFix(t *testing.T) {
	ws, dir := newTestWorkspace(t)
	writeContent(t, dir, "template.json", "{\n  \"resources\": []\n}\n")

	req := &Request{
		Record: &classify.Record{Kind: classify.KindTemplateSyntax, RuleID: "tmpl-missing-schema"},
		Target: Target{TemplatePath: "template.json"},
	}
	rule := builtinRule(t, "tmpl-add-schema")

	fixed, err := rule.Fixed(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if fixed {
		t.Fatal("Expected pre-check to report the template unfixed")
	}

	edit, err := rule.Apply(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if edit.Path != "template.json" {
		t.Errorf("Expected edit on template.json, got %s", edit.Path)
	}

	data, err := ws.ReadFile("template.json")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Expected the edited template to stay valid JSON, got: %v\n%s", err, data)
	}
	if doc["$schema"] == nil || doc["contentVersion"] == nil {
		t.Errorf("Expected $schema and contentVersion, got %v", doc)
	}

	fixed, err = rule.Fixed(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !fixed {
		t.Error("Expected pre-check to report the template fixed after the edit")
	}
}

func TestAddSchemaFixEmptyObject(t *testing.T) {
	ws, dir := newTestWorkspace(t)
	writeContent(t, dir, "template.json", "{}\n")

	req := &Request{
		Record: &classify.Record{Kind: classify.KindTemplateSyntax, RuleID: "tmpl-missing-schema"},
		Target: Target{TemplatePath: "template.json"},
	}
	if _, err := builtinRule(t, "tmpl-add-schema").Apply(ws, req); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, _ := ws.ReadFile("template.json")
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Expected the edited template to stay valid JSON, got: %v\n%s", err, data)
	}
}

func TestStripTrailingCommaFix(t *testing.T) {
	ws, dir := newTestWorkspace(t)
	content := "{\n  \"a\": [1, 2,],\n  \"b\": \"x,}y\"\n}\n"
	writeContent(t, dir, "template.json", content)

	req := &Request{
		Record: &classify.Record{Kind: classify.KindTemplateSyntax, RuleID: "tmpl-json-parse"},
		Raw:    "Unable to parse template: trailing comma at line 2",
		Target: Target{TemplatePath: "template.json"},
	}
	rule := builtinRule(t, "tmpl-strip-trailing-comma")

	edit, err := rule.Apply(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if edit.Line != 2 {
		t.Errorf("Expected first removal on line 2, got %d", edit.Line)
	}

	data, _ := ws.ReadFile("template.json")
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Expected the stripped template to parse, got: %v\n%s", err, data)
	}
	if doc["b"] != "x,}y" {
		t.Errorf("Expected the string literal to survive, got %v", doc["b"])
	}

	fixed, err := rule.Fixed(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !fixed {
		t.Error("Expected pre-check to report no trailing commas left")
	}
}

func TestPruneNullParametersFix(t *testing.T) {
	ws, dir := newTestWorkspace(t)
	content := `{
  "$schema": "https://schema.management.azure.com/schemas/2019-04-01/deploymentParameters.json#",
  "contentVersion": "1.0.0.0",
  "parameters": {
    "skuName": {"value": null},
    "location": {"value": "eastus2"},
    "adminSecret": {"reference": {"keyVault": {"id": "kv-prod"}, "secretName": "admin"}}
  }
}
`
	writeContent(t, dir, "env/staging.parameters.json", content)

	req := &Request{
		Record: &classify.Record{Kind: classify.KindParameterInvalid, RuleID: "param-null-value"},
		Raw:    "The value of deployment parameter 'skuName' is null.",
		Target: Target{ParametersPath: "env/staging.parameters.json"},
	}
	rule := builtinRule(t, "param-prune-null")

	edit, err := rule.Apply(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(edit.Before, "skuName") {
		t.Errorf("Expected the pruned parameter in the before snippet, got %q", edit.Before)
	}

	data, _ := ws.ReadFile("env/staging.parameters.json")
	var doc struct {
		Parameters map[string]json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Expected the rewritten file to parse, got: %v\n%s", err, data)
	}
	if _, ok := doc.Parameters["skuName"]; ok {
		t.Error("Expected skuName to be pruned")
	}
	if _, ok := doc.Parameters["location"]; !ok {
		t.Error("Expected location to survive")
	}
	if _, ok := doc.Parameters["adminSecret"]; !ok {
		t.Error("Expected the key vault reference to survive")
	}

	fixed, err := rule.Fixed(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !fixed {
		t.Error("Expected pre-check to report no null parameters left")
	}
}

func TestWidenAllowedFix(t *testing.T) {
	ws, dir := newTestWorkspace(t)
	content := `{
  "parameters": {
    "tier": {
      "type": "string",
      "allowedValues": ["standard", "premium"]
    }
  }
}
`
	writeContent(t, dir, "template.json", content)

	req := &Request{
		Record: &classify.Record{Kind: classify.KindParameterInvalid, RuleID: "param-not-allowed"},
		Raw:    "The provided value 'gigantic' for the template parameter 'tier' is not allowed. The allowed values are 'standard, premium'.",
		Target: Target{TemplatePath: "template.json"},
	}
	rule := builtinRule(t, "param-widen-allowed")

	if _, err := rule.Apply(ws, req); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, _ := ws.ReadFile("template.json")
	allowed, err := allowedValues(data, "tier")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(allowed) != 3 || allowed[2] != "gigantic" {
		t.Errorf("Expected the rejected value to be appended, got %v", allowed)
	}

	fixed, err := rule.Fixed(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !fixed {
		t.Error("Expected pre-check to report the value already allowed")
	}
}

func TestExpandTabsFix(t *testing.T) {
	ws, dir := newTestWorkspace(t)
	writeContent(t, dir, "hooks/deploy.py", "def main():\n\tclient = connect()\n\treturn client\n")

	req := &Request{
		Record: &classify.Record{
			Kind:   classify.KindScriptDefect,
			RuleID: "script-indentation",
			File:   "hooks/deploy.py",
			Line:   2,
		},
		Raw: "TabError: inconsistent use of tabs and spaces in indentation",
	}
	rule := builtinRule(t, "script-fix-tabs")

	edit, err := rule.Apply(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if edit.Line != 2 {
		t.Errorf("Expected first change on line 2, got %d", edit.Line)
	}

	data, _ := ws.ReadFile("hooks/deploy.py")
	if strings.Contains(string(data), "\t") {
		t.Errorf("Expected no tabs left, got:\n%s", data)
	}
	if !strings.Contains(string(data), "    client = connect()") {
		t.Errorf("Expected four-space indentation, got:\n%s", data)
	}

	fixed, err := rule.Fixed(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !fixed {
		t.Error("Expected pre-check to report no tab indentation left")
	}
}

func TestAddImportFix(t *testing.T) {
	ws, dir := newTestWorkspace(t)
	writeContent(t, dir, "hooks/seed.py", "#!/usr/bin/env python3\nimport os\n\ndef main():\n    uuid.uuid4()\n")

	req := &Request{
		Record: &classify.Record{Kind: classify.KindScriptDefect, RuleID: "script-import", File: "hooks/seed.py"},
		Raw:    "ModuleNotFoundError: No module named 'uuid'",
	}
	rule := builtinRule(t, "script-add-import")

	edit, err := rule.Apply(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if edit.Line != 3 {
		t.Errorf("Expected the import on line 3, got %d", edit.Line)
	}

	data, _ := ws.ReadFile("hooks/seed.py")
	lines := strings.Split(string(data), "\n")
	if lines[2] != "import uuid" {
		t.Errorf("Expected import uuid after the existing imports, got %q", lines[2])
	}

	fixed, err := rule.Fixed(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !fixed {
		t.Error("Expected pre-check to find the import present")
	}
}

func TestCommentLineFix(t *testing.T) {
	ws, dir := newTestWorkspace(t)
	writeContent(t, dir, "hooks/notify.py", "import os\n\ndef main():\n    send()\n    missing_helper()\n")

	req := &Request{
		Record: &classify.Record{
			Kind:   classify.KindScriptDefect,
			RuleID: "script-name",
			File:   "hooks/notify.py",
			Line:   5,
		},
		Raw: "NameError: name 'missing_helper' is not defined",
	}
	rule := builtinRule(t, "script-comment-line")

	if _, err := rule.Apply(ws, req); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, _ := ws.ReadFile("hooks/notify.py")
	lines := strings.Split(string(data), "\n")
	if lines[4] != "    # missing_helper()" {
		t.Errorf("Expected the line commented with indentation kept, got %q", lines[4])
	}

	fixed, err := rule.Fixed(ws, req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !fixed {
		t.Error("Expected pre-check to report the line already commented")
	}
}

func TestRuleMatching(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name     string
		record   *classify.Record
		raw      string
		wantRule string
	}{
		{
			name:     "missing schema selects add-schema",
			record:   &classify.Record{Kind: classify.KindTemplateSyntax, RuleID: "tmpl-missing-schema"},
			wantRule: "tmpl-add-schema",
		},
		{
			name:     "trailing comma evidence selects strip rule",
			record:   &classify.Record{Kind: classify.KindTemplateSyntax, RuleID: "tmpl-json-parse"},
			raw:      "Unable to parse template: Trailing comma found",
			wantRule: "tmpl-strip-trailing-comma",
		},
		{
			name:   "generic parse failure has no fix",
			record: &classify.Record{Kind: classify.KindTemplateSyntax, RuleID: "tmpl-json-parse"},
			raw:    "Unexpected character encountered while parsing value",
		},
		{
			name:     "null parameter selects prune rule",
			record:   &classify.Record{Kind: classify.KindParameterInvalid, RuleID: "param-null-value"},
			raw:      "deployment parameter 'skuName' is null",
			wantRule: "param-prune-null",
		},
		{
			name:   "out of range parameter has no fix",
			record: &classify.Record{Kind: classify.KindParameterInvalid, RuleID: "param-invalid-value"},
			raw:    "The value of deployment parameter 'count' is out of range",
		},
		{
			name:     "rejected value selects widen rule",
			record:   &classify.Record{Kind: classify.KindParameterInvalid, RuleID: "param-not-allowed"},
			raw:      "The provided value 'gigantic' for the template parameter 'tier' is not allowed.",
			wantRule: "param-widen-allowed",
		},
		{
			name:     "name error selects comment rule",
			record:   &classify.Record{Kind: classify.KindScriptDefect, RuleID: "script-name", File: "h.py", Line: 3},
			wantRule: "script-comment-line",
		},
		{
			name:   "name error without locator has no fix",
			record: &classify.Record{Kind: classify.KindScriptDefect, RuleID: "script-name"},
		},
		{
			name:   "quota failures are never remediated",
			record: &classify.Record{Kind: classify.KindQuotaOrCapacity, RuleID: "quota-exceeded"},
		},
		{
			name:   "unknown failures are never remediated",
			record: &classify.Record{Kind: classify.KindUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := reg.Find(&Request{Record: tt.record, Raw: tt.raw})
			if tt.wantRule == "" {
				if rule != nil {
					t.Errorf("Expected no rule, got %s", rule.ID)
				}
				return
			}
			if rule == nil {
				t.Fatalf("Expected rule %s, got none", tt.wantRule)
			}
			if rule.ID != tt.wantRule {
				t.Errorf("Expected rule %s, got %s", tt.wantRule, rule.ID)
			}
		})
	}
}

func TestSnippetRuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short passes through", "short line", "short line"},
		{"trailing newline trimmed", "line\r\n", "line"},
		{"ascii cut at bound", strings.Repeat("a", maxSnippetLen+20), strings.Repeat("a", maxSnippetLen)},
		// 3-byte runes: the bound lands mid-rune and the cut backs up to
		// the previous boundary.
		{"multibyte backs up", strings.Repeat("値", 60), strings.Repeat("値", 53)},
	}
	for _, tt := range tests {
		got := snippet(tt.in)
		if got != tt.want {
			t.Errorf("%s: snippet = %q, want %q", tt.name, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("%s: snippet is not valid UTF-8: %q", tt.name, got)
		}
		if len(got) > maxSnippetLen {
			t.Errorf("%s: snippet is %d bytes, bound is %d", tt.name, len(got), maxSnippetLen)
		}
	}
}

func TestDirWorkspaceConfinement(t *testing.T) {
	ws, dir := newTestWorkspace(t)
	writeContent(t, dir, "inside.txt", "ok")

	if _, err := ws.ReadFile("inside.txt"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := ws.ReadFile(filepath.Join(dir, "inside.txt")); err != nil {
		t.Fatalf("Expected absolute in-tree paths to resolve, got: %v", err)
	}
	if _, err := ws.ReadFile("../outside.txt"); err == nil {
		t.Error("Expected relative escapes to be rejected")
	}
	if err := ws.WriteFile("/etc/openlander-test", []byte("x")); err == nil {
		t.Error("Expected absolute out-of-tree paths to be rejected")
	}
}
