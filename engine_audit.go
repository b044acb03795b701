package authcore

import (
	"context"
	"time"
)

const (
	auditEventSessionCreated     = "session_created"
	auditEventSessionEvicted     = "session_evicted"
	auditEventSessionInvalidated = "session_invalidated"
	auditEventSessionRejected    = "session_rejected"
	auditEventSessionIPMismatch  = "session_ip_mismatch"
	auditEventRateLimited        = "rate_limited"
	auditEventCSRFRejected       = "csrf_rejected"
	auditEventSweep              = "sweep"
)

// AuditErrorCode is the stable error vocabulary used in audit events.
type AuditErrorCode string

const (
	auditErrSessionNotFound     AuditErrorCode = "session_not_found"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrIPMismatch          AuditErrorCode = "ip_mismatch"
	auditErrBackendUnavailable  AuditErrorCode = "backend_unavailable"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrSessionCapEviction  AuditErrorCode = "session_cap"
	auditErrCSRFMissing         AuditErrorCode = "csrf_missing"
	auditErrCSRFInvalid         AuditErrorCode = "csrf_invalid"
	auditErrCSRFExpired         AuditErrorCode = "csrf_expired"
	auditErrCSRFUsed            AuditErrorCode = "csrf_used"
	auditErrCSRFCrossOrigin     AuditErrorCode = "csrf_cross_origin"
	auditErrSessionUserMismatch AuditErrorCode = "session_user_mismatch"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, sessionID string, code AuditErrorCode, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Error:     string(code),
		Metadata:  metadata,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	e.audit.Emit(ctx, event)
}
