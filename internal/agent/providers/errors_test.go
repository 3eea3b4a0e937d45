package providers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
)

func TestErrorReasonIsRetryable(t *testing.T) {
	tests := []struct {
		reason   ErrorReason
		expected bool
	}{
		{ReasonRateLimit, true},
		{ReasonTimeout, true},
		{ReasonServerError, true},
		{ReasonBilling, false},
		{ReasonAuth, false},
		{ReasonInvalidRequest, false},
		{ReasonModelUnavailable, false},
		{ReasonContentFilter, false},
		{ReasonUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.IsRetryable(); got != tt.expected {
				t.Errorf("ErrorReason(%q).IsRetryable() = %v, want %v", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorReason
	}{
		{"nil error", nil, ReasonUnknown},
		{"timeout", errors.New("request timeout"), ReasonTimeout},
		{"deadline exceeded", errors.New("context deadline exceeded"), ReasonTimeout},
		{"rate limit", errors.New("rate limit exceeded"), ReasonRateLimit},
		{"too many requests", errors.New("too many requests"), ReasonRateLimit},
		{"429 status", errors.New("HTTP 429"), ReasonRateLimit},
		{"unauthorized", errors.New("unauthorized"), ReasonAuth},
		{"invalid api key", errors.New("invalid api key"), ReasonAuth},
		{"billing", errors.New("billing issue"), ReasonBilling},
		{"quota exceeded", errors.New("quota exceeded"), ReasonBilling},
		{"content filter", errors.New("content_filter triggered"), ReasonContentFilter},
		{"content blocked", errors.New("content blocked by safety"), ReasonContentFilter},
		{"model not found", errors.New("model not found"), ReasonModelUnavailable},
		{"server error", errors.New("internal server error"), ReasonServerError},
		{"500 status", errors.New("HTTP 500"), ReasonServerError},
		{"unknown", errors.New("something went wrong"), ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.expected {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewProviderError("anthropic", "claude-3-opus", cause).
		WithStatus(429).
		WithCode("rate_limit_error").
		WithRequestID("req-123")

	errStr := err.Error()
	if errStr == "" {
		t.Error("Error() returned empty string")
	}

	if err.Reason != ReasonRateLimit {
		t.Errorf("Expected reason %v, got %v", ReasonRateLimit, err.Reason)
	}

	if err.Provider != "anthropic" {
		t.Errorf("Expected provider anthropic, got %s", err.Provider)
	}
	if err.Model != "claude-3-opus" {
		t.Errorf("Expected model claude-3-opus, got %s", err.Model)
	}
	if err.Status != 429 {
		t.Errorf("Expected status 429, got %d", err.Status)
	}
	if err.Code != "rate_limit_error" {
		t.Errorf("Expected code rate_limit_error, got %s", err.Code)
	}
	if err.RequestID != "req-123" {
		t.Errorf("Expected request ID req-123, got %s", err.RequestID)
	}

	if err.Unwrap() != cause {
		t.Error("Unwrap() did not return cause")
	}

	if !err.Reason.IsRetryable() {
		t.Error("Rate limit should be retryable")
	}
}

func TestProviderErrorWithMessage(t *testing.T) {
	err := NewProviderError("openai", "gpt-4o", errors.New("boom")).WithMessage("request rejected")
	if err.Message != "request rejected" {
		t.Errorf("WithMessage not applied, got %q", err.Message)
	}
	errStr := err.Error()
	if want := "request rejected"; !strings.Contains(errStr, want) {
		t.Errorf("Error() = %q, expected to contain %q", errStr, want)
	}
}

func TestIsProviderError(t *testing.T) {
	providerErr := NewProviderError("openai", "gpt-4", errors.New("test"))
	regularErr := errors.New("regular error")

	if !IsProviderError(providerErr) {
		t.Error("IsProviderError should return true for ProviderError")
	}

	if IsProviderError(regularErr) {
		t.Error("IsProviderError should return false for regular error")
	}

	// Wrapped errors still match.
	wrapped := fmt.Errorf("stream failed: %w", providerErr)
	if !IsProviderError(wrapped) {
		t.Error("IsProviderError should see through wrapping")
	}
}

func TestGetProviderError(t *testing.T) {
	providerErr := NewProviderError("openai", "gpt-4", errors.New("test"))

	got, ok := GetProviderError(providerErr)
	if !ok || got != providerErr {
		t.Error("GetProviderError should extract direct ProviderError")
	}

	got, ok = GetProviderError(fmt.Errorf("outer: %w", providerErr))
	if !ok || got != providerErr {
		t.Error("GetProviderError should extract wrapped ProviderError")
	}

	_, ok = GetProviderError(errors.New("regular"))
	if ok {
		t.Error("GetProviderError should return false for regular error")
	}
}

func TestIsRetryable(t *testing.T) {
	rateLimitErr := NewProviderError("anthropic", "claude", nil).WithStatus(429)
	authErr := NewProviderError("openai", "gpt-4", nil).WithStatus(401)
	regularErr := errors.New("timeout exceeded")

	if !IsRetryable(rateLimitErr) {
		t.Error("Rate limit error should be retryable")
	}

	if IsRetryable(authErr) {
		t.Error("Auth error should not be retryable")
	}

	// Raw errors classify from message text.
	if !IsRetryable(regularErr) {
		t.Error("Timeout error should be retryable")
	}
}

func TestClassifyStatusCode(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorReason
	}{
		{401, ReasonAuth},
		{403, ReasonAuth},
		{402, ReasonBilling},
		{429, ReasonRateLimit},
		{400, ReasonInvalidRequest},
		{404, ReasonModelUnavailable},
		{500, ReasonServerError},
		{502, ReasonServerError},
		{503, ReasonServerError},
		{200, ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			if got := classifyStatusCode(tt.status); got != tt.expected {
				t.Errorf("classifyStatusCode(%d) = %v, want %v", tt.status, got, tt.expected)
			}
		})
	}
}

func TestClassifyErrorCode(t *testing.T) {
	tests := []struct {
		code     string
		expected ErrorReason
	}{
		{"rate_limit_error", ReasonRateLimit},
		{"authentication_error", ReasonAuth},
		{"insufficient_quota", ReasonBilling},
		{"model_not_found", ReasonModelUnavailable},
		{"content_policy_violation", ReasonContentFilter},
		{"overloaded_error", ReasonServerError},
		{"invalid_request_error", ReasonInvalidRequest},
		{"something_else", ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := classifyErrorCode(tt.code); got != tt.expected {
				t.Errorf("classifyErrorCode(%q) = %v, want %v", tt.code, got, tt.expected)
			}
		})
	}
}

func TestWithCodeKeepsReasonForUnknownCodes(t *testing.T) {
	err := NewProviderError("anthropic", "claude", errors.New("HTTP 429")).WithCode("weird_code")
	if err.Reason != ReasonRateLimit {
		t.Errorf("unknown code should not overwrite classified reason, got %v", err.Reason)
	}
}
