package authcore

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidSessionRequest is returned when CreateSession is missing required fields.
	ErrInvalidSessionRequest = errors.New("invalid session request")
	// ErrSessionCreationFailed wraps token or store failures during CreateSession.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionInvalidationFailed wraps store failures during invalidation.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrRateLimited is returned by CheckRequest when the caller is over budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrCSRFDisabled is returned by CSRF methods when the guard is disabled.
	ErrCSRFDisabled = errors.New("csrf protection disabled")
)

// ConfigError reports an invalid configuration value. It is fatal at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErr(field string, err error) error {
	return &ConfigError{Field: field, Err: err}
}
