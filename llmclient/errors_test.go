package llmclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{400, KindTransport, false},
		{401, KindAuth, false},
		{403, KindAuth, false},
		{404, KindTransport, false},
		{408, KindTimeout, false},
		{413, KindTransport, false},
		{422, KindTransport, false},
		{429, KindTransport, true},
		{500, KindTransport, true},
		{502, KindTransport, true},
		{503, KindTransport, true},
		{504, KindTimeout, false},
		{599, KindTransport, true},
	}

	for _, tt := range tests {
		err := FromStatusCode("openai", tt.status, "test error", nil)
		if err.Kind != tt.kind {
			t.Errorf("status %d: expected kind %v, got %v", tt.status, tt.kind, err.Kind)
		}
		if err.Retryable != tt.retryable {
			t.Errorf("status %d: expected retryable=%v, got %v", tt.status, tt.retryable, err.Retryable)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"auth", &BackendError{Kind: KindAuth}, KindAuth},
		{"timeout", &BackendError{Kind: KindTimeout}, KindTimeout},
		{"empty", &BackendError{Kind: KindEmptyResponse}, KindEmptyResponse},
		{"transport", &BackendError{Kind: KindTransport}, KindTransport},
		{"wrapped", fmt.Errorf("call failed: %w", &BackendError{Kind: KindAuth}), KindAuth},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"plain", errors.New("boom"), KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KindOf(tt.err)
			if got != tt.kind {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.kind)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"auth", &BackendError{Kind: KindAuth}, false},
		{"timeout", &BackendError{Kind: KindTimeout}, false},
		{"empty response", &BackendError{Kind: KindEmptyResponse}, false},
		{"rate limit", FromStatusCode("openai", 429, "rate limit", nil), true},
		{"server error", FromStatusCode("openai", 503, "unavailable", nil), true},
		{"bad request", FromStatusCode("openai", 400, "bad request", nil), false},
		{"unknown error", errors.New("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsRetryable(tt.err)
			if got != tt.retryable {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestBackendErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &BackendError{Kind: KindTransport, Message: "wrapper", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected BackendError to unwrap to its cause")
	}
}

func TestBackendErrorMessage(t *testing.T) {
	err := &BackendError{
		Kind:       KindTransport,
		Provider:   "openai",
		Message:    "rate limit exceeded",
		StatusCode: 429,
		Retryable:  true,
	}
	msg := err.Error()
	if msg == "" {
		t.Error("expected non-empty error message")
	}
	if !contains(msg, "openai") || !contains(msg, "rate limit") {
		t.Errorf("error message missing expected content: %q", msg)
	}
}

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindTransport, "transport"},
		{KindTimeout, "timeout"},
		{KindEmptyResponse, "empty_response"},
		{KindAuth, "auth"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func contains(s, sub string) bool {
	for i := 0; i <= len(s)-len(sub); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
