package domain

import "strings"

// ViolationSeverity grades a business rule finding.
type ViolationSeverity string

const (
	ViolationError   ViolationSeverity = "error"
	ViolationWarning ViolationSeverity = "warning"
	ViolationInfo    ViolationSeverity = "info"
)

// BusinessRuleViolation is a post-hoc sanity or regulatory finding.
type BusinessRuleViolation struct {
	RuleID      string            `json:"ruleId"`
	Severity    ViolationSeverity `json:"severity"`
	Message     string            `json:"message"`
	Field       string            `json:"field,omitempty"`
	Remediation string            `json:"remediation,omitempty"`
}

// Violations is a violation report.
type Violations []BusinessRuleViolation

// Errors returns only error-severity violations.
func (v Violations) Errors() Violations {
	return v.withSeverity(ViolationError)
}

// Warnings returns only warning-severity violations.
func (v Violations) Warnings() Violations {
	return v.withSeverity(ViolationWarning)
}

// HasErrors reports whether any violation blocks finalization.
func (v Violations) HasErrors() bool {
	for _, violation := range v {
		if violation.Severity == ViolationError {
			return true
		}
	}
	return false
}

// Combined joins the messages into one line, e.g. for an error message.
func (v Violations) Combined() string {
	parts := make([]string, 0, len(v))
	for _, violation := range v {
		parts = append(parts, violation.RuleID+": "+violation.Message)
	}
	return strings.Join(parts, "; ")
}

func (v Violations) withSeverity(s ViolationSeverity) Violations {
	var out Violations
	for _, violation := range v {
		if violation.Severity == s {
			out = append(out, violation)
		}
	}
	return out
}
