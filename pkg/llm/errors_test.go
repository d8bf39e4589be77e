package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	e := &Error{Type: ErrRateLimit, Provider: "openai", Message: "slow down"}
	if got, want := e.Error(), "openai: rate_limit_error: slow down"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	e = &Error{Type: ErrAPI, Message: "boom"}
	if got, want := e.Error(), "api_error: boom"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestErrorRetryable(t *testing.T) {
	tests := []struct {
		typ  ErrorType
		want bool
	}{
		{ErrRateLimit, true},
		{ErrOverloaded, true},
		{ErrAPI, true},
		{ErrInvalidRequest, false},
		{ErrAuthentication, false},
		{ErrContentFilter, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			e := &Error{Type: tt.typ}
			if got := e.Retryable(); got != tt.want {
				t.Fatalf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrapsThroughWrapping(t *testing.T) {
	inner := NewRateLimitError("openai", "slow down", 5)
	wrapped := fmt.Errorf("stream open: %w", inner)
	var terr *Error
	if !errors.As(wrapped, &terr) {
		t.Fatal("errors.As failed to find *Error")
	}
	if terr.RetryAfter == nil || *terr.RetryAfter != 5 {
		t.Fatalf("RetryAfter = %v, want 5", terr.RetryAfter)
	}
}
