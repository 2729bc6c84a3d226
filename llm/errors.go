package llm

import (
	"fmt"
	"strings"
)

type clientError struct {
	message string
	cause   error
}

func (e *clientError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *clientError) Unwrap() error { return e.cause }

// ProviderError is an error returned by a model provider.
type ProviderError struct {
	clientError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64 // seconds, from a Retry-After hint
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)",
		e.Provider, e.clientError.Error(), e.StatusCode, e.Retryable)
}

// Concrete provider error kinds.

type AuthError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type ServerError struct{ ProviderError }

// Non-provider errors.

type TimeoutError struct{ clientError }
type NetworkError struct{ clientError }
type ConfigError struct{ clientError }

// IsRetryable reports whether an error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *AuthError, *InvalidRequestError, *ContextLengthError, *ConfigError:
		return false
	case *RateLimitError, *ServerError, *NetworkError, *TimeoutError:
		return true
	case *ProviderError:
		return e.Retryable
	default:
		// Unknown errors default to retryable.
		return true
	}
}

// classifyProviderError maps a raw provider error into the typed taxonomy
// by inspecting the message, for SDKs that surface errors as plain text.
func classifyProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	pe := ProviderError{
		clientError: clientError{message: msg, cause: err},
		Provider:    provider,
	}
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") || strings.Contains(lower, "invalid x-api-key"):
		pe.StatusCode = 401
		return &AuthError{pe}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "overloaded"):
		pe.StatusCode = 429
		pe.Retryable = true
		return &RateLimitError{pe}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens") ||
		strings.Contains(lower, "prompt is too long"):
		pe.StatusCode = 413
		return &ContextLengthError{pe}
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid request"):
		pe.StatusCode = 400
		return &InvalidRequestError{pe}
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "internal server"):
		pe.StatusCode = 500
		pe.Retryable = true
		return &ServerError{pe}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return &TimeoutError{clientError{message: msg, cause: err}}
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return &NetworkError{clientError{message: msg, cause: err}}
	default:
		pe.Retryable = true
		return &pe
	}
}
