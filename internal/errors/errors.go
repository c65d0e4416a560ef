package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a chirpkeep error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrConflict       ErrorCode = "CONFLICT"        // 409
	ErrShapeMismatch  ErrorCode = "SHAPE_MISMATCH"  // 422 (matched URL, unknown envelope)
	ErrUpstream       ErrorCode = "UPSTREAM_ERROR"  // 502 (error envelope inside a 200)
	ErrTransport      ErrorCode = "TRANSPORT"       // 502
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// ChirpError represents a structured error with code, status, and details.
type ChirpError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *ChirpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ChirpError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ChirpError {
	return &ChirpError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing row.
func NewNotFound(kind, identifier string) *ChirpError {
	return &ChirpError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *ChirpError {
	return &ChirpError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewShapeMismatch creates a 422 error for a response whose URL matched a
// known endpoint but whose JSON envelope matched none of the known shapes.
func NewShapeMismatch(url, reason string) *ChirpError {
	return &ChirpError{
		Code:    ErrShapeMismatch,
		Status:  422,
		Message: fmt.Sprintf("unrecognized response shape for %s: %s", url, reason),
		Details: map[string]any{"url": url, "reason": reason},
	}
}

// NewUpstream creates a 502 error describing an error envelope returned by
// the platform inside an otherwise successful response.
func NewUpstream(url string, messages []string) *ChirpError {
	return &ChirpError{
		Code:    ErrUpstream,
		Status:  502,
		Message: fmt.Sprintf("upstream returned errors for %s: %v", url, messages),
		Details: map[string]any{"url": url, "messages": messages},
	}
}

// NewTransport creates a 502 error for a failed proxy connection.
func NewTransport(host string, err error) *ChirpError {
	msg := "transport error"
	if err != nil {
		msg = err.Error()
	}
	return &ChirpError{
		Code:    ErrTransport,
		Status:  502,
		Message: fmt.Sprintf("%s: %s", host, msg),
		Details: map[string]any{"host": host},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original text is kept in Details for logging.
func NewInternal(err error) *ChirpError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &ChirpError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) a ChirpError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *ChirpError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}
