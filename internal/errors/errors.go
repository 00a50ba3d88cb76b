// Package errors defines stable error codes for the engine's
// infrastructure failures. Business outcomes (syntax errors, rude edits,
// unsupported capabilities) are never Go errors; they travel as
// diagnostics inside an analysis result.
package errors

import (
	"errors"
	"fmt"
)

// Code represents a stable error code for infrastructure failure modes.
type Code string

const (
	// OracleInternal indicates the syntax/semantic oracle faulted
	OracleInternal Code = "ORACLE_INTERNAL"
	// QueueUnavailable indicates the execution queue has shut down
	QueueUnavailable Code = "QUEUE_UNAVAILABLE"
	// PolicyInvalid indicates a malformed severity policy file
	PolicyInvalid Code = "POLICY_INVALID"
	// ProfileInvalid indicates a malformed capability profile file
	ProfileInvalid Code = "PROFILE_INVALID"
	// StoreCorrupt indicates the persistent result store rejected a payload
	StoreCorrupt Code = "STORE_CORRUPT"
	// ConfigInvalid indicates the engine configuration failed validation
	ConfigInvalid Code = "CONFIG_INVALID"
	// Internal indicates an unexpected error
	Internal Code = "INTERNAL_ERROR"
)

// EngineError carries a stable code, a human message, and the underlying
// cause.
type EngineError struct {
	Code    Code
	Message string
	cause   error
}

// New creates an EngineError.
func New(code Code, message string, cause error) *EngineError {
	return &EngineError{Code: code, Message: message, cause: cause}
}

// Newf creates an EngineError with a formatted message and no cause.
func Newf(code Code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.cause
}

// CodeOf extracts the stable code from err, or Internal when err carries
// no EngineError in its chain.
func CodeOf(err error) Code {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return Internal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
