package classify

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed signatures.yaml
var signaturesYAML []byte

// maxExcerptLen bounds the diagnostic excerpt carried in a Record.
const maxExcerptLen = 200

// Record is the result of classifying one raw diagnostic.
type Record struct {
	// Kind is the assigned taxonomy member.
	Kind Kind `json:"kind"`

	// RuleID names the signature rule that matched, empty for Unknown.
	RuleID string `json:"rule_id,omitempty"`

	// File is the content file the diagnostic points at, when a locator
	// could extract one.
	File string `json:"file,omitempty"`

	// Line is the 1-based line within File, zero when unknown.
	Line int `json:"line,omitempty"`

	// Summary is the human-readable description from the matched rule.
	Summary string `json:"summary"`

	// Excerpt is the first meaningful line of the raw diagnostic.
	Excerpt string `json:"excerpt,omitempty"`
}

// signatureFile is the on-disk shape of the embedded signature table.
type signatureFile struct {
	Rules []struct {
		ID      string   `yaml:"id"`
		Kind    string   `yaml:"kind"`
		AnyOf   []string `yaml:"any_of,omitempty"`
		Pattern string   `yaml:"pattern,omitempty"`
		Summary string   `yaml:"summary"`
	} `yaml:"rules"`
	Locators []struct {
		Pattern string `yaml:"pattern"`
	} `yaml:"locators"`
}

// rule is one compiled signature. Rules are evaluated in file order and
// the first match wins.
type rule struct {
	id      string
	kind    Kind
	anyOf   []string
	pattern *regexp.Regexp
	summary string
}

func (r *rule) matches(lowered, raw string) bool {
	for _, needle := range r.anyOf {
		if strings.Contains(lowered, needle) {
			return true
		}
	}
	if r.pattern != nil && r.pattern.MatchString(raw) {
		return true
	}
	return false
}

// Classifier assigns an error kind to raw diagnostic text.
type Classifier struct {
	rules    []rule
	locators []*regexp.Regexp
}

// NewClassifier compiles the embedded signature table.
func NewClassifier() (*Classifier, error) {
	return newClassifierFrom(signaturesYAML)
}

func newClassifierFrom(data []byte) (*Classifier, error) {
	var f signatureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse signature table: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("signature table has no rules")
	}

	c := &Classifier{}
	seen := make(map[string]bool, len(f.Rules))
	for _, raw := range f.Rules {
		if raw.ID == "" {
			return nil, fmt.Errorf("signature rule with empty id")
		}
		if seen[raw.ID] {
			return nil, fmt.Errorf("duplicate signature rule id %s", raw.ID)
		}
		seen[raw.ID] = true

		kind := Kind(raw.Kind)
		if err := kind.Validate(); err != nil {
			return nil, fmt.Errorf("signature rule %s: %w", raw.ID, err)
		}
		if kind == KindUnknown {
			return nil, fmt.Errorf("signature rule %s targets the unknown kind", raw.ID)
		}
		if len(raw.AnyOf) == 0 && raw.Pattern == "" {
			return nil, fmt.Errorf("signature rule %s has no matchers", raw.ID)
		}

		r := rule{id: raw.ID, kind: kind, summary: raw.Summary}
		for _, needle := range raw.AnyOf {
			r.anyOf = append(r.anyOf, strings.ToLower(needle))
		}
		if raw.Pattern != "" {
			re, err := regexp.Compile(raw.Pattern)
			if err != nil {
				return nil, fmt.Errorf("signature rule %s has a bad pattern: %w", raw.ID, err)
			}
			r.pattern = re
		}
		c.rules = append(c.rules, r)
	}

	for i, loc := range f.Locators {
		re, err := regexp.Compile(loc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("locator %d has a bad pattern: %w", i, err)
		}
		if re.NumSubexp() < 2 {
			return nil, fmt.Errorf("locator %d needs file and line capture groups", i)
		}
		c.locators = append(c.locators, re)
	}
	return c, nil
}

// RuleIDs returns the rule ids in evaluation order.
func (c *Classifier) RuleIDs() []string {
	ids := make([]string, len(c.rules))
	for i, r := range c.rules {
		ids[i] = r.id
	}
	return ids
}

// Classify assigns exactly one kind to the raw diagnostic text. The same
// input always produces the same record; input no rule matches, including
// empty input, yields KindUnknown.
func (c *Classifier) Classify(raw string) *Record {
	rec := &Record{
		Kind:    KindUnknown,
		Summary: "diagnostic did not match any known failure signature",
		Excerpt: excerpt(raw),
	}
	if strings.TrimSpace(raw) == "" {
		rec.Summary = "empty diagnostic output"
		return rec
	}

	lowered := strings.ToLower(raw)
	for i := range c.rules {
		r := &c.rules[i]
		if !r.matches(lowered, raw) {
			continue
		}
		rec.Kind = r.kind
		rec.RuleID = r.id
		rec.Summary = r.summary
		rec.File, rec.Line = c.locate(raw)
		return rec
	}
	return rec
}

// locate extracts a file/line locator from the raw text using the first
// locator pattern that matches.
func (c *Classifier) locate(raw string) (string, int) {
	for _, re := range c.locators {
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		line, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		return m[1], line
	}
	return "", 0
}

// excerpt returns the first non-empty line of the text, bounded. The
// cut never splits a multi-byte rune, so the excerpt stays valid UTF-8
// in audit payloads.
func excerpt(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		return truncate(trimmed, maxExcerptLen)
	}
	return ""
}

// truncate cuts s to at most max bytes on a rune boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
