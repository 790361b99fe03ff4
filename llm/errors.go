package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ConfigError reports a provider configuration that was rejected before any
// request was made.
type ConfigError struct {
	Kind   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("llm: invalid provider config: %s", e.Reason)
}

// ProviderError reports a failed model request. StatusCode is zero when the
// request never produced an HTTP response.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("llm: %s request failed: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("llm: %s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request could succeed: rate
// limits, server errors and transport failures. Cancellation is final.
func (e *ProviderError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// AuthFailure reports whether the provider rejected the credentials.
func (e *ProviderError) AuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
