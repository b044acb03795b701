package authcore

import (
	"github.com/halaqah/authcore/internal/security"
	"github.com/halaqah/authcore/session"
)

// SecurityReport is a flat summary of the protections an Engine has active.
type SecurityReport = security.Report

// SecurityReport summarizes the engine's effective configuration, including warnings for
// risky combinations such as in-memory stores in production.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{Warnings: []string{}}
	}
	_, redisBacked := e.sessions.(*session.RedisStore)

	return security.BuildReport(security.ReportInput{
		ProductionMode:   e.config.Security.ProductionMode,
		SigningAlgorithm: "HS256",
		TokenTTL:         e.tokens.TTL(),
		MaxPerUser:       e.config.Session.MaxPerUser,
		MaxInactive:      e.config.Session.MaxInactive,
		IPMismatchPolicy: string(e.config.Session.IPMismatchPolicy),
		RateLimitEnabled: e.limiter != nil,
		AuthLimit:        e.config.RateLimit.Auth.Limit,
		AuthWindow:       e.config.RateLimit.Auth.Window,
		CSRFEnabled:      e.csrf != nil,
		CSRFOneTimeUse:   e.config.CSRF.OneTimeUse,
		AuditEnabled:     e.config.Audit.Enabled,
		RedisBacked:      redisBacked,
	})
}
