package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercator-hq/conduit/pkg/limits/circuit"
)

// ProviderError is a backend-specific failure: an unexpected HTTP status or
// an error message reported by the provider.
type ProviderError struct {
	// Provider is the id of the provider that returned the error
	Provider string

	// StatusCode is the HTTP status code (0 if not applicable)
	StatusCode int

	// Message is the error message
	Message string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %q error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// MissingAPIKeyError means an external provider has no credential.
type MissingAPIKeyError struct {
	Provider string
}

// Error implements the error interface.
func (e *MissingAPIKeyError) Error() string {
	return fmt.Sprintf("provider %q has no API key configured", e.Provider)
}

// AuthError represents an authentication failure (HTTP 401).
// It is never retried and never counts toward the circuit breaker.
type AuthError struct {
	// Provider is the id of the provider that rejected authentication
	Provider string

	// Message is the error message from the provider
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %q authentication failed: %s", e.Provider, e.Message)
}

// RateLimitError is returned when HTTP 429 persists after all retries.
type RateLimitError struct {
	// Provider is the id of the provider that rate limited the request
	Provider string

	// RetryAfter is the last hint the provider gave (if any)
	RetryAfter time.Duration

	// Message is the error message from the provider
	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %q rate limit exceeded (retry after %s): %s",
			e.Provider, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("provider %q rate limit exceeded: %s", e.Provider, e.Message)
}

// CircuitOpenError is returned without any network I/O while a provider's
// circuit is open.
type CircuitOpenError struct {
	Provider  string
	OpenUntil time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("provider %q temporarily unavailable: circuit open until %s",
		e.Provider, e.OpenUntil.Format(time.Kitchen))
}

// NetworkError is a transport failure (connection refused, reset, DNS,
// per-attempt timeout) that persisted after all retries.
type NetworkError struct {
	// Provider is the id of the provider
	Provider string

	// Timeout is true when the attempt exceeded its deadline
	Timeout bool

	// Cause is the underlying transport error
	Cause error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("provider %q request timed out: %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("provider %q network error: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// ParseError represents a response parsing failure.
// This occurs when the provider returns a malformed response.
type ParseError struct {
	// Provider is the id of the provider that returned the malformed response
	Provider string

	// RawResponse is the raw response body that failed to parse
	RawResponse string

	// Cause is the underlying parse error
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("provider %q response parse error: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// ModelNotFoundError represents an unknown model error.
// This occurs when a requested model is not in the provider's catalog.
type ModelNotFoundError struct {
	// Provider is the id of the provider
	Provider string

	// Model is the requested model identifier
	Model string
}

// Error implements the error interface.
func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("provider %q does not offer model %q", e.Provider, e.Model)
}

// ValidationError represents a request validation failure.
// This occurs when the request has invalid fields before sending to the provider.
type ValidationError struct {
	// Field is the name of the invalid field
	Field string

	// Message describes what is invalid about the field
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

// StreamError represents a failure after a stream was opened.
// It is delivered as the Error of the final StreamChunk.
type StreamError struct {
	// Provider is the id of the provider where the error occurred
	Provider string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %q stream error: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %q stream error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *StreamError) Unwrap() error {
	return e.Cause
}

// ConfigError represents a provider configuration error.
type ConfigError struct {
	// Provider is the id of the provider with invalid configuration
	Provider string

	// Field is the configuration field that is invalid
	Field string

	// Message describes the configuration error
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q configuration error for field %q: %s",
		e.Provider, e.Field, e.Message)
}

// ErrorClass groups errors by how callers should react to them.
type ErrorClass string

const (
	// ClassConfiguration: missing key, invalid configuration, unknown model.
	// The user must fix settings.
	ClassConfiguration ErrorClass = "configuration"

	// ClassAuthentication: the credential was rejected.
	ClassAuthentication ErrorClass = "authentication"

	// ClassTransient: rate limits, 5xx, network failures after retries.
	ClassTransient ErrorClass = "transient"

	// ClassCircuitOpen: the provider is cooling down.
	ClassCircuitOpen ErrorClass = "circuit-open"

	// ClassParse: the response could not be understood.
	ClassParse ErrorClass = "parse"

	// ClassBudget: a spending cap blocked the request.
	ClassBudget ErrorClass = "budget"

	// ClassCancelled: the caller cancelled.
	ClassCancelled ErrorClass = "cancelled"

	// ClassOther: anything else, including permanent provider errors.
	ClassOther ErrorClass = "other"
)

// Classifier is implemented by errors from other packages that belong to a
// class (for example budget errors).
type Classifier interface {
	ErrorClass() ErrorClass
}

// Classify maps err to its ErrorClass. A nil error has no class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var (
		missing  *MissingAPIKeyError
		cfgErr   *ConfigError
		notFound *ModelNotFoundError
		valErr   *ValidationError
		authErr  *AuthError
		rateErr  *RateLimitError
		netErr   *NetworkError
		openErr  *CircuitOpenError
		brkErr   *circuit.OpenError
		parseErr *ParseError
		provErr  *ProviderError
		cls      Classifier
	)

	switch {
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.As(err, &cls):
		return cls.ErrorClass()
	case errors.As(err, &missing), errors.As(err, &cfgErr), errors.As(err, &notFound), errors.As(err, &valErr):
		return ClassConfiguration
	case errors.As(err, &authErr):
		return ClassAuthentication
	case errors.As(err, &openErr), errors.As(err, &brkErr):
		return ClassCircuitOpen
	case errors.As(err, &rateErr), errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.As(err, &parseErr):
		return ClassParse
	case errors.As(err, &provErr):
		if provErr.StatusCode >= 500 {
			return ClassTransient
		}
		return ClassOther
	default:
		return ClassOther
	}
}

// IsRetryableStatus reports whether an HTTP status is retried by the executor.
func IsRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
