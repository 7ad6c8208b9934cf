package vision

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoAPIKey is returned when a provider is built without credentials.
	ErrNoAPIKey = errors.New("vision: API key required")

	// ErrNoModel is returned when a provider is built without a model.
	ErrNoModel = errors.New("vision: model required")

	// ErrProviderUnavailable is returned when a chain has no providers.
	ErrProviderUnavailable = errors.New("vision: provider unavailable")

	// ErrUnsupportedFormat matches any *UnsupportedFormatError.
	ErrUnsupportedFormat = errors.New("vision: unsupported image format")

	// ErrInvalidPayload matches any *InvalidPayloadError.
	ErrInvalidPayload = errors.New("vision: invalid image payload")

	// ErrInference matches any *InferenceError.
	ErrInference = errors.New("vision: inference failed")
)

// UnsupportedFormatError is returned for input that starts with "data:" but
// is not a base64 data URL.
type UnsupportedFormatError struct {
	Prefix string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported image format: expected data:<mime>;base64,<payload>, got %q", e.Prefix)
}

func (e *UnsupportedFormatError) Is(target error) bool { return target == ErrUnsupportedFormat }

// InvalidPayloadError is returned for empty, undecodable or oversized image data.
type InvalidPayloadError struct {
	Reason string
	Err    error
}

func (e *InvalidPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid image payload: %s: %v", e.Reason, e.Err)
	}
	return "invalid image payload: " + e.Reason
}

func (e *InvalidPayloadError) Unwrap() error { return e.Err }

func (e *InvalidPayloadError) Is(target error) bool { return target == ErrInvalidPayload }

// InferenceError carries the upstream failure of a vision provider.
type InferenceError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *InferenceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vision [%s]: upstream error %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("vision [%s]: %s", e.Provider, e.Message)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool { return target == ErrInference }

// IsRateLimited reports an HTTP 429 from upstream.
func (e *InferenceError) IsRateLimited() bool { return e.StatusCode == 429 }

// IsRetryable reports rate limits and upstream 5xx.
func (e *InferenceError) IsRetryable() bool {
	return e.IsRateLimited() || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// ChainError aggregates errors from all providers in a chain.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "vision chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("vision chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("vision chain: all %d providers failed, last error: %v",
		len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error in the chain.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}
