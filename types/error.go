package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Construction error codes
const (
	ErrCyclicDependency      ErrorCode = "CYCLIC_DEPENDENCY"
	ErrUnknownTaskReference  ErrorCode = "UNKNOWN_TASK_REFERENCE"
	ErrUnknownAgentReference ErrorCode = "UNKNOWN_AGENT_REFERENCE"
	ErrUnknownCrewReference  ErrorCode = "UNKNOWN_CREW_REFERENCE"
	ErrDuplicateID           ErrorCode = "DUPLICATE_ID"
	ErrInvalidFlow           ErrorCode = "INVALID_FLOW"
	ErrNoManagerAgent        ErrorCode = "NO_MANAGER_AGENT"
	ErrInvalidConfig         ErrorCode = "INVALID_CONFIG"
)

// Run-time error codes
const (
	ErrTaskTimeout          ErrorCode = "TASK_TIMEOUT"
	ErrTaskExecution        ErrorCode = "TASK_EXECUTION"
	ErrNoEligibleTransition ErrorCode = "NO_ELIGIBLE_TRANSITION"
	ErrStepLimitExceeded    ErrorCode = "STEP_LIMIT_EXCEEDED"
	ErrCancelled            ErrorCode = "CANCELLED"
)

// Sentinels for errors.Is. Matching is by code only, so any *Error carrying the
// same code satisfies errors.Is(err, ErrXxx).
var (
	ErrCyclicDependencyKind      = NewError(ErrCyclicDependency, "cyclic dependency")
	ErrUnknownTaskReferenceKind  = NewError(ErrUnknownTaskReference, "unknown task reference")
	ErrUnknownAgentReferenceKind = NewError(ErrUnknownAgentReference, "unknown agent reference")
	ErrUnknownCrewReferenceKind  = NewError(ErrUnknownCrewReference, "unknown crew reference")
	ErrDuplicateIDKind           = NewError(ErrDuplicateID, "duplicate identifier")
	ErrInvalidFlowKind           = NewError(ErrInvalidFlow, "invalid flow")
	ErrNoManagerAgentKind        = NewError(ErrNoManagerAgent, "no manager agent")
	ErrTaskTimeoutKind           = NewError(ErrTaskTimeout, "task timed out")
	ErrTaskExecutionKind         = NewError(ErrTaskExecution, "task execution failed")
	ErrNoEligibleTransitionKind  = NewError(ErrNoEligibleTransition, "no eligible transition")
	ErrStepLimitExceededKind     = NewError(ErrStepLimitExceeded, "step limit exceeded")
	ErrCancelledKind             = NewError(ErrCancelled, "cancelled")
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
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

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConstructionError reports whether err prevents a crew or flow from being built.
func IsConstructionError(err error) bool {
	switch GetErrorCode(err) {
	case ErrCyclicDependency, ErrUnknownTaskReference, ErrUnknownAgentReference,
		ErrUnknownCrewReference, ErrDuplicateID, ErrInvalidFlow, ErrNoManagerAgent, ErrInvalidConfig:
		return true
	}
	return false
}
