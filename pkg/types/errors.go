package types

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is the kind of every input rejection raised by the engine.
// Check with errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// InputError describes one rejected input value.
type InputError struct {
	Op     string // operation that rejected the input, e.g. "EnrichGroup"
	Field  string // offending field, e.g. "marks_obtained"
	Value  any    // offending value
	Reason string // human-readable reason
	Ref    string // optional record reference, e.g. a student ID
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s: %s: invalid %s %v: %s", e.Op, e.Ref, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("%s: invalid %s %v: %s", e.Op, e.Field, e.Value, e.Reason)
}

// Unwrap returns ErrInvalidInput so errors.Is matches the kind.
func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// Invalid builds an InputError.
func Invalid(op, field string, value any, reason string) *InputError {
	return &InputError{Op: op, Field: field, Value: value, Reason: reason}
}

// IsInvalidInput reports whether err is (or wraps) an engine input rejection.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
