package classify

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier()
	if err != nil {
		t.Fatalf("Expected embedded signatures to compile, got: %v", err)
	}
	return c
}

func TestClassifyKnownSignatures(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name     string
		raw      string
		wantKind Kind
		wantRule string
	}{
		{
			name: "bicep missing required property",
			raw: `/work/infra/main.bicep(42,3) : Error BCP035: The specified "resource" declaration is ` +
				`missing the following required properties: "name".`,
			wantKind: KindTemplateSyntax,
			wantRule: "tmpl-missing-required",
		},
		{
			name:     "bicep undefined symbol",
			raw:      `main.bicep(17,21) : Error BCP057: The name "storageAccnt" does not exist in the current context.`,
			wantKind: KindTemplateSyntax,
			wantRule: "tmpl-undefined-reference",
		},
		{
			name: "arm invalid template deployment",
			raw: `{"error":{"code":"InvalidTemplateDeployment","message":"The template deployment ` +
				`'main' is not valid according to the validation procedure."}}`,
			wantKind: KindTemplateSyntax,
			wantRule: "tmpl-invalid",
		},
		{
			name:     "missing schema",
			raw:      `Deployment template validation failed: 'Required property '$schema' not found in JSON. Path ''.'`,
			wantKind: KindTemplateSyntax,
		},
		{
			name: "parameter invalid value",
			raw: `{"code":"InvalidDeploymentParameterValue","message":"The value of deployment parameter ` +
				`'skuName' is null."}`,
			wantKind: KindParameterInvalid,
			wantRule: "param-invalid-value",
		},
		{
			name:     "parameter not provided",
			raw:      `The value for the template parameter 'administratorLogin' at line '12' and column '9' is not provided.`,
			wantKind: KindParameterInvalid,
			wantRule: "param-missing",
		},
		{
			name:     "parameter outside allowed values",
			raw:      `The provided value 'gigantic' for the template parameter 'tier' is not allowed. The allowed values are 'standard, premium'.`,
			wantKind: KindParameterInvalid,
			wantRule: "param-not-allowed",
		},
		{
			name: "python syntax error in hook",
			raw: `Traceback (most recent call last):
  File "hooks/post_deploy.py", line 23, in <module>
    def configure(:
SyntaxError: invalid syntax`,
			wantKind: KindScriptDefect,
			wantRule: "script-syntax",
		},
		{
			name: "python tab indentation",
			raw: `  File "hooks/configure.py", line 12
    return client
TabError: inconsistent use of tabs and spaces in indentation`,
			wantKind: KindScriptDefect,
			wantRule: "script-indentation",
		},
		{
			name:     "python missing import",
			raw:      `  File "hooks/seed_data.py", line 4, in <module>` + "\n" + `ModuleNotFoundError: No module named 'requests'`,
			wantKind: KindScriptDefect,
			wantRule: "script-import",
		},
		{
			name:     "python undefined name",
			raw:      `NameError: name 'json' is not defined`,
			wantKind: KindScriptDefect,
			wantRule: "script-name",
		},
		{
			name:     "powershell parse error",
			raw:      `At C:\scripts\warmup.ps1:9 char:13` + "\n" + `ParserError: Unexpected token '}' in expression or statement.`,
			wantKind: KindScriptDefect,
			wantRule: "script-powershell",
		},
		{
			name: "quota exhaustion",
			raw: `{"code":"QuotaExceeded","message":"Operation could not be completed as it results in ` +
				`exceeding approved standardPremiumFamily Cores quota."}`,
			wantKind: KindQuotaOrCapacity,
			wantRule: "quota-exceeded",
		},
		{
			name:     "sku not available",
			raw:      `{"code":"SkuNotAvailable","message":"The requested size for resource is currently not available in location 'eastus2'."}`,
			wantKind: KindQuotaOrCapacity,
			wantRule: "sku-capacity",
		},
		{
			name:     "throttled",
			raw:      `{"code":"TooManyRequests","message":"The request is being throttled as the limit has been reached."}`,
			wantKind: KindTransient,
			wantRule: "transient-throttled",
		},
		{
			name:     "gateway timeout",
			raw:      `{"code":"GatewayTimeout","message":"The gateway did not receive a response within the specified time period."}`,
			wantKind: KindTransient,
		},
		{
			name:     "connection reset",
			raw:      `read tcp 10.0.0.4:58812->52.239.154.36:443: connection reset by peer`,
			wantKind: KindTransient,
			wantRule: "transient-connectivity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := c.Classify(tt.raw)
			if rec.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s (rule=%s)", tt.wantKind, rec.Kind, rec.RuleID)
			}
			if tt.wantRule != "" && rec.RuleID != tt.wantRule {
				t.Errorf("Expected rule %s, got %s", tt.wantRule, rec.RuleID)
			}
			if rec.Summary == "" {
				t.Error("Expected a summary")
			}
		})
	}
}

func TestClassifyLocatorExtraction(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name     string
		raw      string
		wantFile string
		wantLine int
	}{
		{
			name:     "bicep locator",
			raw:      `infra/main.bicep(42,3) : Error BCP035: missing the following required properties: "name"`,
			wantFile: "infra/main.bicep",
			wantLine: 42,
		},
		{
			name:     "python locator",
			raw:      `File "hooks/post_deploy.py", line 23, in <module>` + "\n" + `SyntaxError: invalid syntax`,
			wantFile: "hooks/post_deploy.py",
			wantLine: 23,
		},
		{
			name:     "parameters file locator",
			raw:      `Error BCP062 in 'env/staging.parameters.json' at line '8': does not exist in the current context`,
			wantFile: "env/staging.parameters.json",
			wantLine: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := c.Classify(tt.raw)
			if rec.File != tt.wantFile {
				t.Errorf("Expected file %q, got %q", tt.wantFile, rec.File)
			}
			if rec.Line != tt.wantLine {
				t.Errorf("Expected line %d, got %d", tt.wantLine, rec.Line)
			}
		})
	}
}

func TestClassifyTotality(t *testing.T) {
	c := newTestClassifier(t)

	inputs := []string{
		"",
		"   \n\t  ",
		"something nobody has ever seen before",
		strings.Repeat("x", 1<<16),
		"\x00\x01\x02 binary garbage \xff",
		"{\"malformed\": json",
	}
	for _, input := range inputs {
		rec := c.Classify(input)
		if rec == nil {
			t.Fatal("Classify returned nil")
		}
		if err := rec.Kind.Validate(); err != nil {
			t.Errorf("Classify produced invalid kind for %q: %v", input, err)
		}
	}

	rec := c.Classify("no signature matches this text")
	if rec.Kind != KindUnknown {
		t.Errorf("Expected unknown kind, got %s", rec.Kind)
	}
	if rec.RuleID != "" {
		t.Errorf("Expected empty rule id for unknown, got %s", rec.RuleID)
	}
}

func TestClassifyExcerptRuneBoundary(t *testing.T) {
	c := newTestClassifier(t)

	// Diagnostics from localized tooling arrive in multi-byte UTF-8.
	// The bound lands mid-rune here; the excerpt must back up to the
	// previous boundary rather than emit a split rune.
	raw := "依" + strings.Repeat("存関係の検証に失敗しました", 30)
	rec := c.Classify(raw)
	if rec.Excerpt == "" {
		t.Fatal("Classify produced no excerpt")
	}
	if len(rec.Excerpt) > maxExcerptLen {
		t.Errorf("Excerpt is %d bytes, bound is %d", len(rec.Excerpt), maxExcerptLen)
	}
	if !utf8.ValidString(rec.Excerpt) {
		t.Errorf("Excerpt is not valid UTF-8: %q", rec.Excerpt)
	}
	if !strings.HasPrefix(raw, rec.Excerpt) {
		t.Errorf("Excerpt %q is not a prefix of the diagnostic", rec.Excerpt)
	}

	// An ASCII diagnostic still cuts at exactly the bound.
	long := strings.Repeat("a", maxExcerptLen+50)
	if rec := c.Classify(long); len(rec.Excerpt) != maxExcerptLen {
		t.Errorf("ASCII excerpt is %d bytes, want %d", len(rec.Excerpt), maxExcerptLen)
	}
}

func TestClassifyDeterminism(t *testing.T) {
	c := newTestClassifier(t)
	raw := `main.bicep(17,21) : Error BCP057: The name "db" does not exist in the current context.`

	first := c.Classify(raw)
	for i := 0; i < 20; i++ {
		rec := c.Classify(raw)
		if rec.Kind != first.Kind || rec.RuleID != first.RuleID ||
			rec.File != first.File || rec.Line != first.Line {
			t.Fatalf("Classification diverged on iteration %d: %+v vs %+v", i, first, rec)
		}
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	c := newTestClassifier(t)

	// A template defect that also mentions a timeout classifies by the
	// earlier template rule, not the transient rule.
	raw := `main.bicep(3,1) : Error BCP035: missing the following required properties: "name" (request timeout while validating)`
	rec := c.Classify(raw)
	if rec.Kind != KindTemplateSyntax {
		t.Errorf("Expected template-syntax to win by priority, got %s", rec.Kind)
	}
}

func TestKindProperties(t *testing.T) {
	remediable := []Kind{KindTemplateSyntax, KindParameterInvalid, KindScriptDefect}
	for _, k := range remediable {
		if !k.Remediable() {
			t.Errorf("Expected %s to be remediable", k)
		}
		if k.Retryable() {
			t.Errorf("Expected %s not to be retryable", k)
		}
	}
	retryable := []Kind{KindQuotaOrCapacity, KindTransient}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("Expected %s to be retryable", k)
		}
		if k.Remediable() {
			t.Errorf("Expected %s not to be remediable", k)
		}
	}
	if KindUnknown.Remediable() || KindUnknown.Retryable() {
		t.Error("Expected unknown to be neither remediable nor retryable")
	}
	if err := Kind("made-up").Validate(); err == nil {
		t.Error("Expected validation error for an unknown kind")
	}
}

func TestNewClassifierRejectsBadTables(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty table", `rules: []`},
		{"missing matchers", "rules:\n  - id: r1\n    kind: transient\n    summary: s"},
		{"unknown kind", "rules:\n  - id: r1\n    kind: mystery\n    any_of: [x]\n    summary: s"},
		{"targets unknown", "rules:\n  - id: r1\n    kind: unknown\n    any_of: [x]\n    summary: s"},
		{"duplicate id", "rules:\n  - id: r1\n    kind: transient\n    any_of: [x]\n    summary: s\n  - id: r1\n    kind: transient\n    any_of: [y]\n    summary: s"},
		{"bad pattern", "rules:\n  - id: r1\n    kind: transient\n    pattern: '('\n    summary: s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newClassifierFrom([]byte(tt.yaml)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
