package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// Error code constants
const (
	CodeUnknown        = "UNKNOWN_ERROR"
	CodeTimeout        = "TIMEOUT_ERROR"
	CodeCancelled      = "CANCELLED_ERROR"
	CodeNetwork        = "NETWORK_ERROR"
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND_ERROR"
	CodeExecution      = "EXECUTION_ERROR"
	CodePanic          = "PANIC_ERROR"
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeNotInitialized = "NOT_INITIALIZED_ERROR"
	CodeCircuitBreaker = "CIRCUIT_BREAKER_ERROR"
	CodeRateLimit      = "RATE_LIMIT_ERROR"
	CodeUpstream       = "UPSTREAM_ERROR"
)

// Categorize maps an error to a standardized error code
func Categorize(err error) string {
	if err == nil {
		return ""
	}

	var sdkErr *Error
	if errors.As(err, &sdkErr) && sdkErr.Code != "" {
		return sdkErr.Code
	}

	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, ErrInvalidConfig):
		return CodeConfiguration
	case errors.Is(err, ErrExtractorNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNotInitialized):
		return CodeNotInitialized
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitBreaker
	case errors.Is(err, ErrUpstream):
		return CodeUpstream
	case errors.Is(err, io.ErrUnexpectedEOF):
		return CodeNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "timed out") {
		return CodeTimeout
	}

	if strings.Contains(errMsg, "rate limit") {
		return CodeRateLimit
	}

	if strings.Contains(errMsg, "validation") || strings.Contains(errMsg, "invalid") {
		return CodeValidation
	}

	return CodeExecution
}

// IsRetryable determines if an error is transient and should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	switch Categorize(err) {
	case CodeTimeout, CodeNetwork, CodeRateLimit, CodeUpstream:
		return true
	default:
		return false
	}
}
