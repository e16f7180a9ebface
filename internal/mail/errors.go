package mail

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotAuthenticated is returned when no usable credentials are available.
var ErrNotAuthenticated = errors.New("not authenticated")

// AuthError reports missing or rejected credentials.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Message, e.Err)
	}
	return "auth: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProviderError wraps a remote mail API failure.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ClassificationError wraps a classifier failure for one email.
type ClassificationError struct {
	EmailID string
	Err     error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s: %v", e.EmailID, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// RateLimitError is the provider's throttling signal.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ConfigError reports invalid configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}
