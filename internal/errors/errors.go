// Package errors defines the coded application errors rendered in HTTP error bodies.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// InvalidRequest indicates a body that cannot be decoded
	InvalidRequest ErrorCode = "INVALID_REQUEST"
	// MissingMeterID indicates a store request without smartMeterId
	MissingMeterID ErrorCode = "MISSING_METER_ID"
	// MissingReadings indicates absent or empty electricityReadings
	MissingReadings ErrorCode = "MISSING_READINGS"
	// MeterNotFound indicates a meter that never received readings
	MeterNotFound ErrorCode = "METER_NOT_FOUND"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Error represents an application error with code and message
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	cause   error     // Underlying error (not exported to JSON)
}

// New creates an Error without cause
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error around cause
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if stderrors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// CodeOf returns the code of the first *Error in the chain, InternalError otherwise
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return InternalError
}
