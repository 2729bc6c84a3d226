package llm

import (
	"errors"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth", &AuthError{ProviderError{clientError: clientError{message: "x"}}}, false},
		{"invalid request", &InvalidRequestError{ProviderError{clientError: clientError{message: "x"}}}, false},
		{"context length", &ContextLengthError{ProviderError{clientError: clientError{message: "x"}}}, false},
		{"config", &ConfigError{clientError{message: "x"}}, false},
		{"rate limit", &RateLimitError{ProviderError{clientError: clientError{message: "x"}}}, true},
		{"server", &ServerError{ProviderError{clientError: clientError{message: "x"}}}, true},
		{"timeout", &TimeoutError{clientError{message: "x"}}, true},
		{"network", &NetworkError{clientError{message: "x"}}, true},
		{"unknown", errors.New("mystery"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyProviderError(t *testing.T) {
	cases := []struct {
		msg  string
		want any
	}{
		{"401 unauthorized", &AuthError{}},
		{"invalid api key provided", &AuthError{}},
		{"429 rate limit exceeded", &RateLimitError{}},
		{"model is overloaded", &RateLimitError{}},
		{"prompt is too long: context length exceeded", &ContextLengthError{}},
		{"400 invalid request body", &InvalidRequestError{}},
		{"502 bad gateway", &ServerError{}},
		{"request timeout after 60s", &TimeoutError{}},
		{"dial tcp: connection refused", &NetworkError{}},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			got := classifyProviderError("test", errors.New(tc.msg))
			switch tc.want.(type) {
			case *AuthError:
				if _, ok := got.(*AuthError); !ok {
					t.Errorf("expected AuthError, got %T", got)
				}
			case *RateLimitError:
				if _, ok := got.(*RateLimitError); !ok {
					t.Errorf("expected RateLimitError, got %T", got)
				}
			case *ContextLengthError:
				if _, ok := got.(*ContextLengthError); !ok {
					t.Errorf("expected ContextLengthError, got %T", got)
				}
			case *InvalidRequestError:
				if _, ok := got.(*InvalidRequestError); !ok {
					t.Errorf("expected InvalidRequestError, got %T", got)
				}
			case *ServerError:
				if _, ok := got.(*ServerError); !ok {
					t.Errorf("expected ServerError, got %T", got)
				}
			case *TimeoutError:
				if _, ok := got.(*TimeoutError); !ok {
					t.Errorf("expected TimeoutError, got %T", got)
				}
			case *NetworkError:
				if _, ok := got.(*NetworkError); !ok {
					t.Errorf("expected NetworkError, got %T", got)
				}
			}
		})
	}
}

func TestClassifyUnknownDefaultsRetryable(t *testing.T) {
	got := classifyProviderError("test", errors.New("something odd happened"))
	pe, ok := got.(*ProviderError)
	if !ok {
		t.Fatalf("expected ProviderError, got %T", got)
	}
	if !pe.Retryable {
		t.Error("unknown provider errors should default to retryable")
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := classifyProviderError("test", cause)
	if !errors.Is(err, cause) {
		t.Error("classified error should unwrap to its cause")
	}
}
