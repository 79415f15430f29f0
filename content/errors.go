package content

import (
	"fmt"

	"github.com/teranos/croplink/errors"
)

// TerminalError is an artifact that can never be processed, such as a body
// that does not parse. Retrying it cannot succeed.
type TerminalError struct {
	Reason string
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *TerminalError) Unwrap() error { return e.Err }

func terminal(err error, reason string) error {
	return errors.MarkTerminal(&TerminalError{Reason: reason, Err: err})
}

// Validation error types.
const (
	ErrorTypeSchemaViolation = "schema_violation"
	ErrorTypeUndeclaredField = "undeclared_field"
)

// ValidationError is an extracted document that fails its source's schema
// or strict field list. It is retryable: a corrected config or reference
// data may let a later attempt pass.
type ValidationError struct {
	Type    string
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s at %q: %s", e.Type, e.Field, e.Message)
}

func (e *ValidationError) ErrorType() string { return e.Type }
func (e *ValidationError) FieldName() string { return e.Field }

func (e *ValidationError) FieldValue() string {
	if e.Value == nil {
		return ""
	}
	return fmt.Sprint(e.Value)
}

var errTrailingData = errors.New("trailing data after JSON value")
