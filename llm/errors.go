package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies completion backend failures.
type ErrorKind string

const (
	KindRateLimited   ErrorKind = "rate_limited"
	KindTimeout       ErrorKind = "timeout"
	KindInvalidModel  ErrorKind = "invalid_model"
	KindProviderError ErrorKind = "provider_error"
)

// Error is a backend failure.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind != KindInvalidModel
}

// NewError creates a backend error of the given kind.
func NewError(kind ErrorKind, provider, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message}
}

// KindOf returns the kind of a backend error, or "" when err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a retryable backend error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// FromHTTPStatus maps an upstream HTTP status onto an error kind.
func FromHTTPStatus(status int, provider, message string, cause error) *Error {
	kind := KindProviderError
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status == http.StatusNotFound:
		kind = KindInvalidModel
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(message), "model"):
		kind = KindInvalidModel
	}
	return &Error{Kind: kind, Provider: provider, Message: message, HTTPStatus: status, Cause: cause}
}

// FromTransport classifies a non-HTTP failure. Caller cancellation is returned
// unchanged so it is never mistaken for a backend failure.
func FromTransport(err error, provider string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: provider, Message: err.Error(), Cause: err}
	}
	return &Error{Kind: KindProviderError, Provider: provider, Message: err.Error(), Cause: err}
}
