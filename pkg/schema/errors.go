package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeUnknownAction = "UNKNOWN_ACTION"
	ErrCodeRateLimited   = "RATE_LIMIT_EXCEEDED"
	ErrCodeTransient     = "TRANSIENT_EXTERNAL_ERROR"
	ErrCodeReadiness     = "READINESS_ERROR"
	ErrCodePersistence   = "PERSISTENCE_ERROR"
	ErrCodeVault         = "VAULT_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeStore         = "STORE_ERROR"
	ErrCodeExecution     = "EXECUTION_ERROR"
	ErrCodeAborted       = "RUN_ABORTED"
	ErrCodeCircuitOpen   = "CIRCUIT_OPEN"
)

// EngineError is the structured error type for all engine operations.
// Status carries the resolved HTTP status for platform failures (0 if none).
type EngineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"status,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("[%s] %s (status %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether a queue-level retry may succeed where this
// attempt failed. Validation, readiness and unknown-action failures are
// deterministic; transient platform failures and rate-limit rejections are
// not (the window advances, the upstream recovers).
func (e *EngineError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTransient, ErrCodeRateLimited, ErrCodeStore, ErrCodePersistence, ErrCodeCircuitOpen:
		return true
	default:
		return false
	}
}

// CodeOf returns the error code of err, or empty if err is not an EngineError.
func CodeOf(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStatus attaches the resolved HTTP status.
func (e *EngineError) WithStatus(status int) *EngineError {
	e.Status = status
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}
