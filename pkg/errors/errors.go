package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidExtractor indicates that an extractor is nil or lacks an identity
	ErrInvalidExtractor = errors.New("invalid extractor")

	// ErrDuplicateExtractor indicates that an extractor id is already registered
	ErrDuplicateExtractor = errors.New("extractor already registered")

	// ErrExtractorNotFound indicates that no extractor is registered under an id
	ErrExtractorNotFound = errors.New("extractor not found")

	// ErrInvalidConfig indicates that an effective configuration failed validation
	ErrInvalidConfig = errors.New("invalid extractor configuration")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrNotInitialized indicates that an extractor was used before its setup succeeded
	ErrNotInitialized = errors.New("extractor not initialized")

	// ErrCircuitOpen indicates that an upstream circuit breaker is rejecting calls
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrUpstream indicates that an upstream service returned a failure
	ErrUpstream = errors.New("upstream request failed")

	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrPublishFailed indicates that a message could not be published
	ErrPublishFailed = errors.New("publish failed")
)

// Error represents a structured error with a machine-readable code
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// UpstreamStatus classifies a non-success HTTP response from service. Rate
// limiting and server errors wrap ErrUpstream and are retryable; any other
// status is a request the upstream rejected and will keep rejecting.
func UpstreamStatus(service string, status int, detail string) *Error {
	msg := fmt.Sprintf("%s returned %d", service, status)
	if detail != "" {
		msg += ": " + detail
	}
	switch {
	case status == http.StatusTooManyRequests:
		return NewError(CodeRateLimit, msg, ErrUpstream)
	case status >= 500:
		return NewError(CodeUpstream, msg, ErrUpstream)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return NewError(CodeValidation, msg, nil)
	default:
		return NewError(CodeExecution, msg, nil)
	}
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotFound checks if an error is an unknown-extractor error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExtractorNotFound)
}

// IsInvalidConfig checks if an error is a configuration validation error
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
