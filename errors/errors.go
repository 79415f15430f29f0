// Package errors is the single error package used across croplink.
//
// It re-exports github.com/cockroachdb/errors so that every layer gets
// stack traces, hints and details from one import, and it defines the
// sentinels the pipeline uses to decide between retrying a job and
// dead-lettering it.
//
//	if err := store.Insert(ctx, doc); err != nil {
//	    return errors.Wrapf(err, "failed to store document for %s", sourceID)
//	}
//
//	// Failures that no amount of retrying will fix
//	return errors.MarkTerminal(errors.Newf("landing blob %s is gone", path))
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Join         = crdb.Join
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
	Mark           = crdb.Mark
)

var AssertionFailedf = crdb.AssertionFailedf

// Sentinels shared by the storage, queue and HTTP layers.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates a uniqueness violation (duplicate job, duplicate document)
	ErrConflict = New("resource conflict")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrServiceUnavailable indicates a required dependency is not reachable
	ErrServiceUnavailable = New("service unavailable")

	// ErrTerminal marks a failure that must not be retried
	ErrTerminal = New("terminal failure")
)

// MarkTerminal tags err so that IsTerminal reports true for it and any
// error wrapping it. The message of err is unchanged.
func MarkTerminal(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrTerminal)
}

// IsTerminal reports whether err was marked with MarkTerminal.
func IsTerminal(err error) bool {
	return err != nil && Is(err, ErrTerminal)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsConflictError checks if an error is or wraps ErrConflict
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
