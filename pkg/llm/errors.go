package llm

import "fmt"

// Error is a typed backend failure. Providers convert raw transport
// and API errors into this form before they reach the session layer.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes backend failures.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrContentFilter  ErrorType = "content_filter_error"
	ErrAPI            ErrorType = "api_error"
)

// Retryable reports whether re-issuing the request may succeed.
// Invalid requests, bad credentials, and filtered content never will.
func (e *Error) Retryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	}
	return false
}

// NewAPIError wraps an opaque backend failure.
func NewAPIError(provider, message string) *Error {
	return &Error{Type: ErrAPI, Provider: provider, Message: message}
}

// NewRateLimitError records a throttled request with an optional
// retry-after hint in seconds.
func NewRateLimitError(provider, message string, retryAfter int) *Error {
	e := &Error{Type: ErrRateLimit, Provider: provider, Message: message}
	if retryAfter > 0 {
		e.RetryAfter = &retryAfter
	}
	return e
}

// NewContentFilterError records a generation blocked by the backend's
// safety layer.
func NewContentFilterError(provider, message string) *Error {
	return &Error{Type: ErrContentFilter, Provider: provider, Message: message}
}
