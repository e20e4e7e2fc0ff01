package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

const (
	// ErrInvalidArgument marks malformed caller input: empty queries,
	// empty cache keys, nil callbacks.
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrDecomposition marks a query decomposition failure.
	ErrDecomposition ErrorCode = "DECOMPOSITION"
	// ErrCycleDetected marks a circular dependency in a sub-query set.
	ErrCycleDetected ErrorCode = "CYCLE_DETECTED"
	// ErrPlanning marks a retrieval planning or optimization failure.
	ErrPlanning ErrorCode = "PLANNING"
	// ErrReasoning marks a reasoning chain failure.
	ErrReasoning ErrorCode = "REASONING"
	// ErrTimeout marks a retrieval step that exceeded its budget.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrRetrievalFailure marks a retrieval callback error.
	ErrRetrievalFailure ErrorCode = "RETRIEVAL_FAILURE"
	// ErrCapacityExceeded marks a step or size ceiling violation.
	ErrCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	// ErrSynthesis marks a result synthesis or conflict resolution failure.
	ErrSynthesis ErrorCode = "SYNTHESIS"
	// ErrCache marks a cache operation failure.
	ErrCache ErrorCode = "CACHE"
)

// Error is a structured error with a taxonomy code, a human-readable
// message, and an optional wrapped cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in
// its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
