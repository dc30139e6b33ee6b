package model

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass buckets provider failures by how the retry policy should treat
// them. Rate limits, server errors and network failures are transient;
// model_not_found triggers a one-time registry refresh; bad_request and
// missing_capability never retry.
type ErrorClass string

const (
	ErrorClassRateLimit     ErrorClass = "rate_limit"
	ErrorClassServer        ErrorClass = "server_error"
	ErrorClassNetwork       ErrorClass = "network"
	ErrorClassBadRequest    ErrorClass = "bad_request"
	ErrorClassModelNotFound ErrorClass = "model_not_found"
	ErrorClassCapability    ErrorClass = "missing_capability"
	ErrorClassUnknown       ErrorClass = "unknown"
)

// ErrThinkingUnsupported signals that a provider has no structured thinking
// budget API. The selector catches it to apply provider-family fallbacks.
var ErrThinkingUnsupported = errors.New("extended thinking not supported by provider")

// ProviderError wraps a failed provider interaction with its classification.
// Match with errors.As; the wrapped error remains reachable via Unwrap.
type ProviderError struct {
	Class    ErrorClass
	Provider string
	Status   int
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %v", e.Provider, e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Class, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As chains.
func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying with backoff.
func (e *ProviderError) Transient() bool {
	switch e.Class {
	case ErrorClassRateLimit, ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// NewProviderError classifies an HTTP-status-bearing provider failure.
// Status 0 means the request never produced a response (network-level).
func NewProviderError(provider string, status int, err error) *ProviderError {
	return &ProviderError{
		Class:    ClassifyStatus(status),
		Provider: provider,
		Status:   status,
		Err:      err,
	}
}

// ClassifyStatus maps an HTTP status code to an error class.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == 404:
		return ErrorClassModelNotFound
	case status == 429:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassBadRequest
	case status == 0:
		return ErrorClassNetwork
	default:
		return ErrorClassUnknown
	}
}

// Classify resolves the error class for any failure surfaced by a provider
// call. Already-classified errors keep their class; context and transport
// failures classify as network; everything else is unknown.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorClassNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}

	return ErrorClassUnknown
}

// IsClass reports whether err classifies into the given class.
func IsClass(err error, class ErrorClass) bool {
	return Classify(err) == class
}
