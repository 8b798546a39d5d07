package domain

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. The structured errors below unwrap to them.
var (
	// ErrMissingField is returned when a condition references a field absent from the record.
	ErrMissingField = errors.New("missing input field")

	// ErrTypeMismatch is returned when an operator is applied to operands of the wrong type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrConfiguration is returned for malformed rule sets: bad brackets, chains, caps.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrUnknownReference is returned when an identifier does not resolve to an entity.
	// Callers treat it as a lookup miss rather than a failure.
	ErrUnknownReference = errors.New("unknown reference")

	// ErrNotFound is returned by stores when a tenant has no such record.
	ErrNotFound = errors.New("record not found")
)

// MissingFieldError names the absent field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing input field %q", e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// TypeMismatchError describes an operator applied to an incompatible operand.
type TypeMismatchError struct {
	Field    string
	Operator ComparisonOperator
	Got      ValueKind
	Want     ValueKind
}

func (e *TypeMismatchError) Error() string {
	if e.Operator == "" {
		return fmt.Sprintf("field %q: needs %s value, got %s", e.Field, e.Want, e.Got)
	}
	return fmt.Sprintf("field %q: operator %s needs %s operand, got %s", e.Field, e.Operator, e.Want, e.Got)
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

// ConfigurationError locates a malformed piece of configuration.
type ConfigurationError struct {
	Path    string // e.g. "brackets[2]", "earnings[OT].conditionalRules[1]"
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration at %s: %s", e.Path, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// Configf builds a ConfigurationError.
func Configf(path, format string, args ...any) error {
	return &ConfigurationError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// UnknownReferenceError names an identifier that does not resolve.
type UnknownReferenceError struct {
	Kind string // component, regime, earning, deduction
	ID   string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown %s reference %q", e.Kind, e.ID)
}

func (e *UnknownReferenceError) Unwrap() error {
	return ErrUnknownReference
}

// IsClientError reports whether err stems from the submitted rule set or record
// rather than from infrastructure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrMissingField)
}
