package models

import (
	"errors"
	"fmt"
)

// ValidationError represents a record that failed conversion
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s (%q)", e.Field, e.Message, e.Value)
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// InputError is a caller mistake: malformed coordinates, a missing required
// column, an unknown method name. It is never recorded as a data quality issue.
type InputError struct {
	Op      string
	Message string
}

func (e *InputError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

// IsTransient returns false as input errors are permanent
func (e *InputError) IsTransient() bool {
	return false
}

// NewInputError builds an InputError with a formatted message
func NewInputError(op, format string, args ...interface{}) error {
	return &InputError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsInputError reports whether err wraps an InputError or ValidationError
func IsInputError(err error) bool {
	var ie *InputError
	var ve *ValidationError
	return errors.As(err, &ie) || errors.As(err, &ve)
}

// ErrNoNumericData is returned when a dataset has no numeric column at all
var ErrNoNumericData = errors.New("dataset has no numeric data")

// NotFoundError reports a missing station, file or stored result
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// IsTransient returns false as a missing resource does not reappear on retry
func (e *NotFoundError) IsTransient() bool {
	return false
}

// IsNotFound reports whether err wraps a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
