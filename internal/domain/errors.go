package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rating failure.
type ErrorKind string

const (
	// KindConfigurationMissing: no rate, territory or minimum premium row. Never defaulted.
	KindConfigurationMissing ErrorKind = "configuration_missing"
	// KindValidationFailed: malformed or out-of-domain input.
	KindValidationFailed ErrorKind = "validation_failed"
	// KindRegulatoryViolation: an error-severity business rule fired.
	KindRegulatoryViolation ErrorKind = "regulatory_violation"
	// KindDependencyUnavailable: store or cache I/O failed.
	KindDependencyUnavailable ErrorKind = "dependency_unavailable"
	// KindOptionalEnhancementFailed: the AI scorer failed. Not fatal to a calculation.
	KindOptionalEnhancementFailed ErrorKind = "optional_enhancement_failed"
)

// RatingError is the typed failure returned by the rating pipeline.
type RatingError struct {
	Kind        ErrorKind  `json:"kind"`
	Message     string     `json:"message"`
	Remediation string     `json:"remediation,omitempty"`
	Violations  Violations `json:"violations,omitempty"`
	Err         error      `json:"-"`
}

func (e *RatingError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Remediation != "" {
		msg += " (" + e.Remediation + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RatingError) Unwrap() error {
	return e.Err
}

// NewConfigurationMissing builds a ConfigurationMissing error.
func NewConfigurationMissing(message, remediation string, err error) *RatingError {
	return &RatingError{Kind: KindConfigurationMissing, Message: message, Remediation: remediation, Err: err}
}

// NewValidationFailed builds a ValidationFailed error.
func NewValidationFailed(message, remediation string, err error) *RatingError {
	return &RatingError{Kind: KindValidationFailed, Message: message, Remediation: remediation, Err: err}
}

// NewRegulatoryViolation builds a RegulatoryViolation carrying the full report.
func NewRegulatoryViolation(violations Violations) *RatingError {
	return &RatingError{
		Kind:        KindRegulatoryViolation,
		Message:     violations.Errors().Combined(),
		Remediation: "correct the quote inputs flagged by the error-severity rules",
		Violations:  violations,
	}
}

// NewDependencyUnavailable builds a DependencyUnavailable error.
func NewDependencyUnavailable(dependency string, err error) *RatingError {
	return &RatingError{
		Kind:        KindDependencyUnavailable,
		Message:     dependency + " unavailable",
		Remediation: "retry once the " + dependency + " is reachable",
		Err:         err,
	}
}

// IsKind reports whether err is a RatingError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var re *RatingError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}
