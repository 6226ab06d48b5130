package stepflow

import (
	"errors"
	"fmt"
)

// Error codes
const (
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeDepNotReady       = "DEPENDENCY_NOT_READY"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// Error is the typed error carried by every core operation. Code is a stable
// machine-readable value; Details holds structured remediation context such
// as allowed transitions or blocking dependency IDs.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying store error, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// NewBadRequest creates a validation error
func NewBadRequest(format string, args ...any) *Error {
	return &Error{
		Code:    ErrCodeBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewNotFound creates a missing-resource error
func NewNotFound(resource, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %s not found", resource, id),
		Details: map[string]any{"resource": resource, "id": id},
	}
}

// NewInvalidTransition creates a state machine rejection carrying the
// current status, the requested target and the edges still available.
func NewInvalidTransition(from, to StepInstanceStatus, allowed []StepInstanceStatus) *Error {
	out := make([]string, 0, len(allowed))
	for _, s := range allowed {
		out = append(out, s.String())
	}
	return &Error{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition step from %s to %s", from, to),
		Details: map[string]any{
			"from":    from.String(),
			"to":      to.String(),
			"allowed": out,
		},
	}
}

// NewInstanceNotCancellable rejects cancellation of a terminal instance
func NewInstanceNotCancellable(status InstanceStatus) *Error {
	return &Error{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("instance in status %s cannot be cancelled", status),
		Details: map[string]any{
			"from":    status.String(),
			"to":      InstanceStatusCancelled.String(),
			"allowed": []string{},
		},
	}
}

// NewDepNotReady creates a dependency rejection enumerating the predecessor
// steps still incomplete.
func NewDepNotReady(blocking []string) *Error {
	return &Error{
		Code:    ErrCodeDepNotReady,
		Message: fmt.Sprintf("step has %d incomplete dependencies", len(blocking)),
		Details: map[string]any{"blockingDeps": blocking},
	}
}

// NewInternal wraps a store or serialization failure
func NewInternal(err error) *Error {
	return &Error{
		Code:    ErrCodeInternalError,
		Message: err.Error(),
		cause:   err,
	}
}

// AsError extracts a typed *Error, wrapping anything else as internal
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternal(err)
}

// CodeOf returns the error code, or INTERNAL_ERROR for untyped errors
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return AsError(err).Code
}

// IsNotFound checks if an error is a missing-resource error
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsBadRequest checks if an error is a validation error
func IsBadRequest(err error) bool {
	return CodeOf(err) == ErrCodeBadRequest
}

// IsInvalidTransition checks if an error is a state machine rejection
func IsInvalidTransition(err error) bool {
	return CodeOf(err) == ErrCodeInvalidTransition
}

// IsDepNotReady checks if an error is a dependency rejection
func IsDepNotReady(err error) bool {
	return CodeOf(err) == ErrCodeDepNotReady
}
