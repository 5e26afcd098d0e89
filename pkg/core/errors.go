package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error shape shared by the turn orchestrator, the live
// session and the gateway.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Status  int       `json:"status,omitempty"` // upstream HTTP status, if any
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrTransientRemote   ErrorType = "transient_remote_error"
	ErrTerminalRemote    ErrorType = "terminal_remote_error"
	ErrDeviceUnavailable ErrorType = "device_unavailable"
	ErrAudioContext      ErrorType = "audio_context_failure"
	ErrClassification    ErrorType = "classification_failure"
	ErrVoiceUnavailable  ErrorType = "voice_synthesis_unavailable"
	ErrMalformedPayload  ErrorType = "malformed_payload"
	ErrInsufficientData  ErrorType = "insufficient_data"
	ErrInvalidRequest    ErrorType = "invalid_request_error"
	ErrNotFound          ErrorType = "not_found_error"
	ErrConflict          ErrorType = "conflict_error"
	ErrTransport         ErrorType = "transport_failure"
)

// NewError creates an error of the given type.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Wrap creates an error of the given type around cause.
func Wrap(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause}
}

// NewRemoteError classifies an upstream failure by its HTTP status.
func NewRemoteError(status int, message string, cause error) *Error {
	t := ErrTerminalRemote
	if status == 429 || status == 503 {
		t = ErrTransientRemote
	}
	return &Error{Type: t, Message: message, Status: status, Cause: cause}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// IsType reports whether err wraps a *Error of type t.
func IsType(err error, t ErrorType) bool {
	var coreErr *Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return coreErr.Type == t
	}
	return false
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var coreErr *Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return coreErr.Status
	}
	return 0
}

// IsRetryable returns true if the error is a transient remote failure.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrTransientRemote
}
