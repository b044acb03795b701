package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/halaqah/authcore/internal/csrf"
	"github.com/halaqah/authcore/internal/rate"
)

// CSRF rejection reasons returned by CheckCSRFToken.
var (
	ErrCSRFMissing = csrf.ErrMissing
	ErrCSRFInvalid = csrf.ErrInvalid
	ErrCSRFExpired = csrf.ErrExpired
	ErrCSRFUsed    = csrf.ErrUsed
)

// ClassifyPath returns the rate limit class ("page", "api" or "auth") governing path.
func ClassifyPath(path string) string {
	return string(rate.ClassifyPath(path))
}

// AllowRequest records one request from clientID against the budget of path's class.
//
// With rate limiting disabled every request is allowed. A backend failure is returned as
// an error wrapping rate.ErrBackendUnavailable; callers should fail closed.
func (e *Engine) AllowRequest(ctx context.Context, path, clientID string) (RateDecision, error) {
	class := rate.ClassifyPath(path)
	if !e.ready() {
		return RateDecision{Class: string(class)}, ErrEngineNotReady
	}
	if e.limiter == nil {
		return RateDecision{Allowed: true, Class: string(class)}, nil
	}

	d, err := e.limiter.Allow(ctx, class, clientID)
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "rate limiter unavailable",
			slog.String("class", string(class)),
			slog.Any("error", err),
		)
		return RateDecision{Class: string(class), Limit: d.Limit}, err
	}

	out := RateDecision{
		Allowed:    d.Allowed,
		Class:      string(d.Class),
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		ResetAt:    d.ResetAt,
		RetryAfter: d.RetryAfter,
	}
	if !d.Allowed {
		e.metricInc(MetricRateLimitHit)
		e.emitAudit(ctx, auditEventRateLimited, false, "", "", auditErrRateLimited, map[string]string{
			"class": string(d.Class),
			"path":  path,
		})
		e.logger.LogAttrs(ctx, slog.LevelWarn, "request rate limited",
			slog.String("class", string(d.Class)),
			slog.String("client", clientID),
			slog.Int("retry_after", d.RetryAfter),
		)
	}
	return out, nil
}

// CheckRequest is AllowRequest reduced to an error: nil, ErrRateLimited or a backend
// failure.
func (e *Engine) CheckRequest(ctx context.Context, path, clientID string) error {
	d, err := e.AllowRequest(ctx, path, clientID)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return ErrRateLimited
	}
	return nil
}

// CSRFEnabled reports whether the CSRF guard is active.
func (e *Engine) CSRFEnabled() bool {
	return e != nil && e.csrf != nil
}

// CSRFSessionKey derives the CSRF store key for a request from its session token, or
// from ip and userAgent before login.
func (e *Engine) CSRFSessionKey(sessionToken, ip, userAgent string) string {
	return csrf.SessionKey(sessionToken, ip, userAgent)
}

// RequiresCSRF reports whether a request with method and path must carry a CSRF token.
func (e *Engine) RequiresCSRF(method, path string) bool {
	if !e.CSRFEnabled() {
		return false
	}
	return e.csrf.RequiresProtection(method, path)
}

// IssueCSRFToken issues a fresh token for key, replacing any earlier one.
func (e *Engine) IssueCSRFToken(ctx context.Context, key string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	if e.csrf == nil {
		return "", ErrCSRFDisabled
	}
	token, err := e.csrf.Issue(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", csrf.ErrBackendUnavailable, err)
	}
	e.metricInc(MetricCSRFIssued)
	return token, nil
}

// CheckCSRFToken verifies candidate using the configured one-time-use setting. It returns
// nil or one of ErrCSRFMissing, ErrCSRFExpired, ErrCSRFUsed and ErrCSRFInvalid. Rejections
// are counted and audited.
func (e *Engine) CheckCSRFToken(ctx context.Context, key, candidate string) error {
	return e.checkCSRF(ctx, key, candidate, e.config.CSRF.OneTimeUse)
}

// VerifyCSRFToken reports whether candidate is the live token for key. With oneTimeUse a
// successful verification consumes the token.
func (e *Engine) VerifyCSRFToken(ctx context.Context, key, candidate string, oneTimeUse bool) bool {
	return e.checkCSRF(ctx, key, candidate, oneTimeUse) == nil
}

// RevokeCSRFToken deletes the token issued for key.
func (e *Engine) RevokeCSRFToken(ctx context.Context, key string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if e.csrf == nil {
		return nil
	}
	return e.csrf.Revoke(ctx, key)
}

func (e *Engine) checkCSRF(ctx context.Context, key, candidate string, oneTimeUse bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if e.csrf == nil {
		return ErrCSRFDisabled
	}
	err := e.csrf.Check(ctx, key, candidate, oneTimeUse)
	if err == nil {
		return nil
	}

	code := csrfAuditCode(err)
	if code == auditErrBackendUnavailable {
		e.logger.LogAttrs(ctx, slog.LevelError, "csrf store unavailable", slog.Any("error", err))
		err = fmt.Errorf("%w: %v", csrf.ErrBackendUnavailable, err)
	}
	e.RecordCSRFRejection(ctx, code)
	return err
}

// RecordCSRFRejection counts and audits a request rejected by CSRF checks performed
// outside the engine, such as cross-origin detection in middleware.
func (e *Engine) RecordCSRFRejection(ctx context.Context, code AuditErrorCode) {
	e.metricInc(MetricCSRFRejected)
	e.emitAudit(ctx, auditEventCSRFRejected, false, "", "", code, nil)
}

// CSRFCrossOrigin is the audit code for requests refused by origin checks.
const CSRFCrossOrigin = auditErrCSRFCrossOrigin

func csrfAuditCode(err error) AuditErrorCode {
	switch {
	case errors.Is(err, csrf.ErrMissing):
		return auditErrCSRFMissing
	case errors.Is(err, csrf.ErrExpired):
		return auditErrCSRFExpired
	case errors.Is(err, csrf.ErrUsed):
		return auditErrCSRFUsed
	case errors.Is(err, csrf.ErrInvalid):
		return auditErrCSRFInvalid
	default:
		return auditErrBackendUnavailable
	}
}
