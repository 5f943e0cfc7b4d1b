package llmclient

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the closed classification every backend failure carries.
// Callers switch on the kind, never on error message text.
type ErrorKind int

const (
	// KindTransport covers network failures, rate limits, server errors and
	// anything else that is not one of the more specific kinds.
	KindTransport ErrorKind = iota
	// KindTimeout means the call exceeded its deadline.
	KindTimeout
	// KindEmptyResponse means the provider answered but produced no text.
	KindEmptyResponse
	// KindAuth covers invalid or missing credentials and permission refusals.
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindEmptyResponse:
		return "empty_response"
	case KindAuth:
		return "auth"
	default:
		return "transport"
	}
}

// BackendError is the error type every Backend returns. The Kind is the
// contract; the rest is diagnostic detail.
type BackendError struct {
	Kind       ErrorKind
	Provider   string
	Message    string
	StatusCode int      // 0 when unknown
	Retryable  bool     // safe to retry at the transport layer
	RetryAfter *float64 // seconds, from a rate-limit response if present
	Cause      error
}

func (e *BackendError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// KindOf extracts the error kind. Errors that did not originate in a
// Backend (including bare context errors) classify as transport, except
// deadline expiry which is a timeout.
func KindOf(err error) ErrorKind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransport
}

// IsRetryable reports whether the error is safe to retry at the transport
// layer. Timeouts are not: the caller owns timeout recovery.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// FromStatusCode builds a BackendError from an HTTP status observed in a
// provider response.
func FromStatusCode(provider string, status int, message string, cause error) *BackendError {
	be := &BackendError{
		Provider:   provider,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
	}
	switch status {
	case 401, 403:
		be.Kind = KindAuth
	case 408, 504:
		be.Kind = KindTimeout
	case 429:
		be.Kind = KindTransport
		be.Retryable = true
	case 400, 404, 413, 422:
		be.Kind = KindTransport
	case 500, 502, 503:
		be.Kind = KindTransport
		be.Retryable = true
	default:
		// Unknown statuses default to retryable transport failures.
		be.Kind = KindTransport
		be.Retryable = true
	}
	return be
}
