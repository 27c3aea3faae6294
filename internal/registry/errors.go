package registry

import (
	"errors"
	"fmt"
)

// ErrorCategory defines the normalized failure taxonomy
type ErrorCategory string

const (
	// ErrorTimeout indicates the provider took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorOutage indicates the provider is unavailable
	ErrorOutage ErrorCategory = "provider_outage"

	// ErrorRejected indicates the provider explicitly refused the operation
	// (domain unavailable, invalid auth code, insufficient balance)
	ErrorRejected ErrorCategory = "rejected"

	// ErrorBadData indicates the provider returned invalid/malformed data
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates credential or permission issues
	ErrorAuthentication ErrorCategory = "authentication"
)

// ProviderError wraps provider failures with normalized categorization.
// Retryable failures leave the order in paid for a later attempt; terminal
// rejections are recorded and never retried automatically.
type ProviderError struct {
	Category   ErrorCategory
	Message    string
	Underlying error
	Retryable  bool
	// Raw holds the provider's response body when one was received.
	Raw []byte
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("registry [%s]: %s: %v", e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("registry [%s]: %s", e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// IsRetryable reports whether err is a provider failure worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// RawResponse extracts the provider response body from err, if any.
func RawResponse(err error) []byte {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Raw
	}
	return nil
}
