// Package faults defines the engine's closed error taxonomy and the
// degradation model that drives conservative decision bias when market
// data providers fail.
package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the engine's error categories.
type Kind string

const (
	// Routing errors
	KindInvalidJSON      Kind = "INVALID_JSON"
	KindSchemaValidation Kind = "SCHEMA_VALIDATION"
	KindUnknownSource    Kind = "UNKNOWN_SOURCE"

	// Auth errors
	KindAuthenticationFailed Kind = "AUTHENTICATION_FAILED"

	// Processing errors
	KindProcessingTimeout Kind = "PROCESSING_TIMEOUT"
	KindIncompleteContext Kind = "INCOMPLETE_CONTEXT"
	KindCalculationError  Kind = "CALCULATION_ERROR"
	KindRuleViolation     Kind = "RULE_VIOLATION"
	KindInvalidInput      Kind = "INVALID_INPUT"

	// Provider errors
	KindTimeout      Kind = "TIMEOUT"
	KindRateLimited  Kind = "RATE_LIMITED"
	KindAPIError     Kind = "API_ERROR"
	KindNetworkError Kind = "NETWORK_ERROR"

	// Ledger errors
	KindDeleteNotAllowed    Kind = "DELETE_NOT_ALLOWED"
	KindOverwriteNotAllowed Kind = "OVERWRITE_NOT_ALLOWED"
	KindEntryNotFound       Kind = "ENTRY_NOT_FOUND"
	KindInvalidUpdate       Kind = "INVALID_UPDATE"
	KindDatabaseError       Kind = "DATABASE_ERROR"
	KindValidationError     Kind = "VALIDATION_ERROR"
)

// Error is the engine's typed error. Every error crossing a component
// boundary carries a Kind so callers can branch without string sniffing.
type Error struct {
	Kind      Kind
	Message   string
	Details   map[string]interface{}
	Timestamp time.Time
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a typed error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Timestamp: time.Now().UTC()}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, message string, cause error) *Error {
	e := New(kind, message)
	e.cause = cause
	return e
}

// WithDetails attaches a diagnostic table to the error.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from an error chain; unclassified errors
// report CALCULATION_ERROR.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindCalculationError
}

// IsRetryable reports whether the error kind is transient. Timeouts and
// network failures are worth retrying; auth and client errors are not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetworkError, KindProcessingTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error kind to the status code webhook callers see.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidJSON, KindSchemaValidation, KindUnknownSource, KindInvalidInput:
		return 400
	case KindAuthenticationFailed:
		return 401
	case KindEntryNotFound:
		return 404
	case KindOverwriteNotAllowed, KindDeleteNotAllowed, KindInvalidUpdate:
		return 409
	case KindRateLimited:
		return 429
	default:
		return 500
	}
}

// Classify maps an arbitrary third-party error (typically from an HTTP
// client) to a provider Kind. String sniffing is confined to this one
// boundary function.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return KindTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return KindRateLimited
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "403"):
		return KindAuthenticationFailed
	case strings.Contains(msg, "400") || strings.Contains(msg, "404") || strings.Contains(msg, "422"):
		return KindAPIError
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "refused"):
		return KindNetworkError
	default:
		return KindAPIError
	}
}

// ErrorResponse is the machine-parseable failure body returned to
// webhook callers and recorded in logs.
type ErrorResponse struct {
	Success       bool                   `json:"success"`
	Error         string                 `json:"error"`
	Type          Kind                   `json:"type"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	EngineVersion string                 `json:"engine_version"`
}

// NewErrorResponse builds the response body for a failed request.
// Payload details are expected to be pre-redacted by the caller.
func NewErrorResponse(err error, engineVersion string) *ErrorResponse {
	resp := &ErrorResponse{
		Success:       false,
		Error:         err.Error(),
		Type:          KindOf(err),
		Timestamp:     time.Now().UTC(),
		EngineVersion: engineVersion,
	}
	var fe *Error
	if errors.As(err, &fe) {
		resp.Error = fe.Message
		resp.Details = Redact(fe.Details)
	}
	return resp
}
