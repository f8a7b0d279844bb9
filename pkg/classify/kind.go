// Package classify turns the raw diagnostic output of a failed apply
// attempt into a closed error taxonomy. Classification is rule-based
// pattern matching against fixed signatures evaluated in file order;
// the first matching rule wins, and input no rule matches is Unknown.
// Classification never fails: for any input text it yields exactly one
// kind.
package classify

import "fmt"

// Kind is the closed classification taxonomy for failed apply attempts.
type Kind string

const (
	// KindTemplateSyntax is a structural defect in the declarative
	// template, such as a missing required field or an invalid
	// cross-reference.
	KindTemplateSyntax Kind = "template-syntax"

	// KindParameterInvalid is a supplied parameter violating a type,
	// range, or required constraint.
	KindParameterInvalid Kind = "parameter-invalid"

	// KindScriptDefect is a syntax, indentation, or import defect in an
	// orchestration script invoked during apply.
	KindScriptDefect Kind = "script-defect"

	// KindQuotaOrCapacity is a target region or subscription lacking
	// capacity for the requested resources.
	KindQuotaOrCapacity Kind = "quota-or-capacity"

	// KindTransient is a timeout, throttle, or connectivity blip.
	KindTransient Kind = "transient"

	// KindUnknown is any diagnostic no rule matched.
	KindUnknown Kind = "unknown"
)

// Remediable returns true if failures of this kind are fixed by editing
// content. Remediable kinds are never retried without a fix.
func (k Kind) Remediable() bool {
	return k == KindTemplateSyntax || k == KindParameterInvalid || k == KindScriptDefect
}

// Retryable returns true if failures of this kind may pass on retry
// without any content change.
func (k Kind) Retryable() bool {
	return k == KindQuotaOrCapacity || k == KindTransient
}

// Validate checks if the kind is a member of the taxonomy.
func (k Kind) Validate() error {
	switch k {
	case KindTemplateSyntax, KindParameterInvalid, KindScriptDefect,
		KindQuotaOrCapacity, KindTransient, KindUnknown:
		return nil
	default:
		return fmt.Errorf("invalid error kind: %s", k)
	}
}
