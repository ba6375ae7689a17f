// internal/errors/errors.go
// Package errors provides standardized error handling for the report client.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a standardized error code for the report client.
type ErrorCode string

const (
	// Validation errors (submission never attempted, no retry)
	RPT_INVALID_TYPE ErrorCode = "RPT_INVALID_TYPE" // MIME type is not an image family
	RPT_TOO_LARGE    ErrorCode = "RPT_TOO_LARGE"    // Image exceeds the size ceiling

	// Location capability errors (swallowed by the orchestrator)
	RPT_LOCATION_DENIED      ErrorCode = "RPT_LOCATION_DENIED"      // Permission denied
	RPT_LOCATION_TIMEOUT     ErrorCode = "RPT_LOCATION_TIMEOUT"     // Fix not produced in time
	RPT_LOCATION_UNAVAILABLE ErrorCode = "RPT_LOCATION_UNAVAILABLE" // Position unavailable

	// Camera capability errors (terminal for the capture flow)
	RPT_CAMERA_NOT_FOUND   ErrorCode = "RPT_CAMERA_NOT_FOUND"   // No camera on this device
	RPT_CAMERA_NOT_ALLOWED ErrorCode = "RPT_CAMERA_NOT_ALLOWED" // Permission denied
	RPT_CAMERA_BUSY        ErrorCode = "RPT_CAMERA_BUSY"        // Device held by another consumer
	RPT_CAMERA_OTHER       ErrorCode = "RPT_CAMERA_OTHER"       // Any other camera failure
	RPT_CAPTURE_NOT_READY  ErrorCode = "RPT_CAPTURE_NOT_READY"  // Stream not yet primed

	// Submission errors
	RPT_BUSY         ErrorCode = "RPT_BUSY"         // A submission is already in flight
	RPT_UNREACHABLE  ErrorCode = "RPT_UNREACHABLE"  // Backend could not be reached
	RPT_SERVER       ErrorCode = "RPT_SERVER"       // Backend returned a non-success response
	RPT_BAD_RESPONSE ErrorCode = "RPT_BAD_RESPONSE" // Backend response could not be parsed

	// Channel errors (never surfaced to the user as failures)
	RPT_CHANNEL_CLOSED    ErrorCode = "RPT_CHANNEL_CLOSED"    // Channel torn down by its owner
	RPT_SUBSCRIBER_EXISTS ErrorCode = "RPT_SUBSCRIBER_EXISTS" // Duplicate subscriber id
)

// Error represents a standardized client error.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	cause         error
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a new Error carrying an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithCorrelation attaches a correlation ID and returns the error for chaining.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// CodeOf extracts the ErrorCode from an error chain, or empty when the chain
// carries no client Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
