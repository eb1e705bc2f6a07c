package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"structured", NewError(CodePanic, "panicked", nil), CodePanic},
		{"wrapped timeout", fmt.Errorf("call: %w", ErrTimeout), CodeTimeout},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"cancelled", context.Canceled, CodeCancelled},
		{"config", fmt.Errorf("%w: bad", ErrInvalidConfig), CodeConfiguration},
		{"not found", ErrExtractorNotFound, CodeNotFound},
		{"not initialized", ErrNotInitialized, CodeNotInitialized},
		{"circuit", fmt.Errorf("llm: %w", ErrCircuitOpen), CodeCircuitBreaker},
		{"upstream", fmt.Errorf("%w: status 503", ErrUpstream), CodeUpstream},
		{"truncated body", fmt.Errorf("read response: %w", io.ErrUnexpectedEOF), CodeNetwork},
		{"rate limit text", errors.New("rate limit exceeded"), CodeRateLimit},
		{"validation text", errors.New("invalid date"), CodeValidation},
		{"other", errors.New("boom"), CodeExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.want {
				t.Fatalf("Categorize(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("%w: 502", ErrUpstream)) {
		t.Fatal("expected upstream failure to be retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Fatal("expected cancellation not to be retryable")
	}
	if IsRetryable(ErrInvalidConfig) {
		t.Fatal("expected config error not to be retryable")
	}
}

func TestUpstreamStatus(t *testing.T) {
	tests := []struct {
		status    int
		detail    string
		code      string
		retryable bool
	}{
		{429, "slow down", CodeRateLimit, true},
		{500, "", CodeUpstream, true},
		{503, "gateway timeout", CodeUpstream, true},
		{400, "request timeout too small", CodeValidation, false},
		{422, "", CodeValidation, false},
		{401, "bad key", CodeExecution, false},
		{404, "", CodeExecution, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := UpstreamStatus("lifelog API", tt.status, tt.detail)
			if got := Categorize(err); got != tt.code {
				t.Fatalf("Categorize = %q, want %q", got, tt.code)
			}
			if got := IsRetryable(fmt.Errorf("fetch page: %w", err)); got != tt.retryable {
				t.Fatalf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if errors.Is(err, ErrUpstream) != tt.retryable {
				t.Fatalf("ErrUpstream wrapping does not match retryability for %d", tt.status)
			}
		})
	}

	if msg := UpstreamStatus("llm API", 401, "").Message; msg != "llm API returned 401" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestStructuredError(t *testing.T) {
	err := NewError(CodeTimeout, "extractor x timed out after 10ms", ErrTimeout)
	if !IsTimeout(err) {
		t.Fatal("expected wrapped ErrTimeout")
	}
	if err.Error() != "[TIMEOUT_ERROR] extractor x timed out after 10ms: operation timed out" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if NewError(CodeUnknown, "bare", nil).Error() != "[UNKNOWN_ERROR] bare" {
		t.Fatal("unexpected message for bare error")
	}
}
