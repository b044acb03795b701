package csrf

import "errors"

var (
	// ErrMissing is returned when the request carries no token or no token was issued.
	ErrMissing = errors.New("missing CSRF token")
	// ErrInvalid is returned when the request token does not match the issued one.
	ErrInvalid = errors.New("invalid CSRF token")
	// ErrExpired is returned when the issued token has passed its expiry.
	ErrExpired = errors.New("expired CSRF token")
	// ErrUsed is returned when a one-time token is presented again.
	ErrUsed = errors.New("CSRF token already used")
	// ErrBackendUnavailable wraps failures of the token store.
	ErrBackendUnavailable = errors.New("csrf backend unavailable")
)
