package async

import (
	"context"

	"github.com/teranos/croplink/errors"
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeMalformedContent  ErrorCode = "malformed_content"
	ErrorCodeTimeout           ErrorCode = "timeout"
	ErrorCodeCanceled          ErrorCode = "canceled"
	ErrorCodeTransient         ErrorCode = "transient"
	ErrorCodeProcessingTimeout ErrorCode = "processing_timeout"
	ErrorCodeUnknown           ErrorCode = "unknown"
)

// FieldError is a failure tied to one document field. Linkage and schema
// validation errors implement it; their ErrorType becomes the error code.
type FieldError interface {
	error
	ErrorType() string
	FieldName() string
	FieldValue() string
}

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Code       ErrorCode
	Message    string
	FieldName  string
	FieldValue string
	Retryable  bool
}

// ClassifyError decides whether a failed attempt may be retried. It looks
// at error types and marks, never at messages:
//   - errors marked terminal (unparseable content) are never retried
//   - field errors (linkage, schema) are retryable and keep field context
//   - deadline and cancellation are retryable transient failures
//   - anything else is treated as transient I/O
func ClassifyError(err error) ErrorContext {
	if err == nil {
		return ErrorContext{Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ec := ErrorContext{Message: err.Error(), Retryable: true}

	var fe FieldError
	hasField := errors.As(err, &fe)
	if hasField {
		ec.Code = ErrorCode(fe.ErrorType())
		ec.FieldName = fe.FieldName()
		ec.FieldValue = fe.FieldValue()
	}

	switch {
	case errors.IsTerminal(err):
		ec.Retryable = false
		if !hasField {
			ec.Code = ErrorCodeMalformedContent
		}
	case hasField:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		ec.Code = ErrorCodeTimeout
	case errors.Is(err, context.Canceled):
		ec.Code = ErrorCodeCanceled
	default:
		ec.Code = ErrorCodeTransient
	}

	return ec
}
