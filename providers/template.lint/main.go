// Package main implements the template.lint plugin. It runs structural
// checks over a deployment template (unbalanced braces, empty resource
// blocks, unreferenced parameters) and compiles to a wasip1 reactor
// module that the lander lint host loads before validation.
//
// Build with:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o template_lint.wasm .
package main

import (
	"fmt"
	"strings"
)

const (
	severityInfo    = "info"
	severityWarning = "warning"
	severityError   = "error"
)

// lintRequest and lintResponse mirror the JSON the host exchanges with
// the plugin over linear memory.
type lintRequest struct {
	TemplatePath   string `json:"template_path"`
	ParametersPath string `json:"parameters_path,omitempty"`
	Environment    string `json:"environment,omitempty"`
}

type finding struct {
	Check    string `json:"check"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Line     int    `json:"line,omitempty"`
}

type lintResponse struct {
	Findings []finding `json:"findings"`
}

// runChecks applies every check to the template source and collects the
// findings in declaration order.
func runChecks(source string) []finding {
	var findings []finding
	findings = append(findings, checkBraces(source)...)
	findings = append(findings, checkEmptyResources(source)...)
	findings = append(findings, checkUnreferencedParameters(source)...)
	return findings
}

type openBracket struct {
	char byte
	line int
}

var bracketPairs = map[byte]byte{'}': '{', ']': '['}

// checkBraces reports unmatched brackets. Brackets inside string
// literals and line comments do not count.
func checkBraces(source string) []finding {
	var findings []finding
	var stack []openBracket

	for i, raw := range strings.Split(source, "\n") {
		line := stripLiterals(raw)
		lineNo := i + 1
		for j := 0; j < len(line); j++ {
			switch c := line[j]; c {
			case '{', '[':
				stack = append(stack, openBracket{char: c, line: lineNo})
			case '}', ']':
				if len(stack) > 0 && stack[len(stack)-1].char == bracketPairs[c] {
					stack = stack[:len(stack)-1]
					continue
				}
				findings = append(findings, finding{
					Check:    "unbalanced-braces",
					Message:  fmt.Sprintf("unmatched %q", string(c)),
					Severity: severityError,
					Line:     lineNo,
				})
				// Pop anyway so one stray bracket does not cascade.
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			}
		}
	}

	for _, open := range stack {
		findings = append(findings, finding{
			Check:    "unbalanced-braces",
			Message:  fmt.Sprintf("%q is never closed", string(open.char)),
			Severity: severityError,
			Line:     open.line,
		})
	}
	return findings
}

// checkEmptyResources flags resource blocks that declare no body, which
// usually means a half-finished edit.
func checkEmptyResources(source string) []finding {
	var findings []finding
	lines := strings.Split(source, "\n")

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(stripLiterals(lines[i]))
		if !strings.HasPrefix(trimmed, "resource ") {
			continue
		}
		name := "resource"
		if fields := strings.Fields(trimmed); len(fields) > 1 {
			name = fields[1]
		}

		if strings.HasSuffix(trimmed, "{}") {
			findings = append(findings, emptyResourceFinding(name, i+1))
			continue
		}
		if !strings.HasSuffix(trimmed, "{") {
			continue
		}

		depth := 1
		empty := true
		for j := i + 1; j < len(lines) && depth > 0; j++ {
			body := strings.TrimSpace(stripLiterals(lines[j]))
			if withoutBrackets(body) != "" {
				empty = false
			}
			for k := 0; k < len(body) && depth > 0; k++ {
				switch body[k] {
				case '{':
					depth++
				case '}':
					depth--
				}
			}
		}
		if empty {
			findings = append(findings, emptyResourceFinding(name, i+1))
		}
	}
	return findings
}

func emptyResourceFinding(name string, line int) finding {
	return finding{
		Check:    "empty-resource",
		Message:  fmt.Sprintf("resource %s has an empty body", name),
		Severity: severityWarning,
		Line:     line,
	}
}

// checkUnreferencedParameters flags param declarations whose name never
// appears elsewhere in the template. References inside strings count:
// interpolation is how parameters usually get used.
func checkUnreferencedParameters(source string) []finding {
	var findings []finding
	lines := strings.Split(source, "\n")

	type param struct {
		name string
		line int
	}
	var params []param
	for i, raw := range lines {
		trimmed := strings.TrimSpace(stripLiterals(raw))
		if !strings.HasPrefix(trimmed, "param ") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		params = append(params, param{name: fields[1], line: i + 1})
	}

	for _, p := range params {
		if referencedOutside(lines, p.name, p.line) {
			continue
		}
		findings = append(findings, finding{
			Check:    "unreferenced-parameter",
			Message:  fmt.Sprintf("parameter %s is never referenced", p.name),
			Severity: severityInfo,
			Line:     p.line,
		})
	}
	return findings
}

func referencedOutside(lines []string, name string, declLine int) bool {
	for i, raw := range lines {
		if i+1 == declLine {
			continue
		}
		if containsWord(raw, name) {
			return true
		}
	}
	return false
}

// stripLiterals blanks single-quoted strings and drops line comments so
// the structural checks do not trip over bracket characters in text.
func stripLiterals(line string) string {
	var out []byte
	inString := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inString:
			if c == '\'' {
				inString = false
			}
			out = append(out, ' ')
		case c == '\'':
			inString = true
			out = append(out, ' ')
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return string(out)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func withoutBrackets(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '{' || r == '}' || r == '[' || r == ']' {
			return -1
		}
		return r
	}, s))
}

func containsWord(line, word string) bool {
	idx := 0
	for {
		j := strings.Index(line[idx:], word)
		if j < 0 {
			return false
		}
		start := idx + j
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(line[start-1])
		afterOK := end == len(line) || !isWordChar(line[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// main is never called: the host instantiates the module as a reactor
// and drives it through the exported lint function.
func main() {}
