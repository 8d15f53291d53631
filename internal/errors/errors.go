// Package errors defines the error kinds of spec.md §7 and the AppError
// boundary type that turns them into HTTP responses.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind enumerates the error kinds distinguished at the HTTP boundary.
type Kind string

const (
	KindUnretryable         Kind = "unretryable"
	KindRetryable           Kind = "retryable"
	KindConcurrencyExhaust  Kind = "concurrency_exhausted"
	KindMaxRetriesExceeded  Kind = "max_retries_exceeded"
	KindParseFailure        Kind = "parse_failure"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindPayloadTooLarge     Kind = "payload_too_large"
	KindBadInput            Kind = "bad_input"
	KindNoUpstreamAPIKey    Kind = "no_upstream_api_key"
)

// AppError is the boundary error type handlers translate into HTTP JSON.
type AppError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// New constructs an AppError of the given kind.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap constructs an AppError wrapping cause.
func Wrap(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// HTTPStatus maps a Kind to the response status code a handler should send.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindBadInput, KindUnretryable:
		return http.StatusBadRequest
	case KindNoUpstreamAPIKey:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryableText classifies an upstream error's textual form as retryable
// per spec.md §4.1: any occurrence of 429, 1302, 500, 502, 503, 504.
func IsRetryableText(s string) bool {
	for _, marker := range []string{"429", "1302", "500", "502", "503", "504"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
