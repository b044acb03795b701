package rate

import "errors"

var (
	// ErrRateLimited is returned by Limiter.Check when the caller is over budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackendUnavailable wraps failures of the counter backend.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
	// ErrUnknownClass is returned when no policy is configured for a class.
	ErrUnknownClass = errors.New("unknown rate limit class")
)
