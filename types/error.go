package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Trace analysis error codes
const (
	ErrMalformedField    ErrorCode = "MALFORMED_FIELD"
	ErrDanglingReference ErrorCode = "DANGLING_REFERENCE"
	ErrCycleDetected     ErrorCode = "CYCLE_DETECTED"
	ErrEmptyTrace        ErrorCode = "EMPTY_TRACE"
	ErrTraceNotFound     ErrorCode = "TRACE_NOT_FOUND"
	ErrBatchItemFailed   ErrorCode = "BATCH_ITEM_FAILED"
)

// Infrastructure error codes
const (
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
	ErrInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	TraceID string    `json:"trace_id,omitempty"`
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

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithTraceID records which trace the error belongs to.
func (e *Error) WithTraceID(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
// Returns the empty string for errors that carry no code.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsEmptyTrace reports whether err marks a trace with no recorded spans.
// Empty traces are an explicit "no data" outcome, not a processing failure.
func IsEmptyTrace(err error) bool {
	return GetErrorCode(err) == ErrEmptyTrace
}
