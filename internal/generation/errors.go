package generation

import (
	"context"
	"errors"
)

// Common errors returned by generation providers.
var (
	// ErrGenerationFailed is returned when generation fails for any general reason.
	ErrGenerationFailed = errors.New("failed to generate artifact")

	// ErrInvalidResponse is returned when the provider response cannot be
	// parsed or is malformed. Not retryable: the same request would produce
	// the same malformed response.
	ErrInvalidResponse = errors.New("invalid response from generation provider")

	// ErrContentBlocked is returned when the provider blocks the content due
	// to safety filters. Not retryable.
	ErrContentBlocked = errors.New("content blocked by provider safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve
	// on retry: network failures, provider 5xx responses, rate-limit signals
	// and call timeouts.
	ErrTransientFailure = errors.New("transient generation failure")

	// ErrInvalidPayload is returned when a job payload cannot be turned into
	// a provider request. Not retryable; payload validation at admission
	// should make this unreachable.
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrInvalidConfig is returned when the provider configuration is invalid.
	ErrInvalidConfig = errors.New("invalid generator configuration")
)

// IsTransient reports whether err should be retried. Timeouts and
// cancellations of the per-call context count as transient; explicitly
// permanent classifications do not. Unclassified errors default to
// transient: an unnecessary retry is cheaper than wrongly failing a
// recoverable job.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrContentBlocked),
		errors.Is(err, ErrInvalidResponse),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrInvalidConfig):
		return false
	case errors.Is(err, ErrTransientFailure),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return true
	}
}
