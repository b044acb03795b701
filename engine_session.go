package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/halaqah/authcore/internal"
	"github.com/halaqah/authcore/session"
)

// CreateSession issues a token for an authenticated user and records the session.
//
// When the user then holds more sessions than Session.MaxPerUser, the
// least-recently-active sessions other than the new one are evicted and listed in the
// result; tokens bound to them stop verifying immediately.
func (e *Engine) CreateSession(ctx context.Context, req SessionRequest) (*SessionResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidSessionRequest)
	}
	if !req.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidSessionRequest, req.Role)
	}

	sessionID := uuid.NewString()
	token, err := e.tokens.IssueSession(req.UserID, req.Role, req.Email, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	now := e.now()
	nowMs := now.UnixMilli()
	rec := &session.Record{
		SessionID:         sessionID,
		UserID:            req.UserID,
		DeviceFingerprint: internal.DeviceFingerprint(req.Device.UserAgent, req.Device.AcceptLanguage),
		UserAgent:         truncate(req.Device.UserAgent, 512),
		IP:                req.IP,
		CreatedAt:         nowMs,
		LastActivity:      nowMs,
		Active:            true,
	}

	evicted, err := e.sessions.Insert(ctx, rec, e.config.Session.MaxPerUser)
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "session insert failed",
			slog.String("user_id", req.UserID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, req.UserID, sessionID, "", map[string]string{
		"role": string(req.Role),
	})
	for _, id := range evicted {
		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, auditEventSessionEvicted, true, req.UserID, id, auditErrSessionCapEviction, nil)
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, "session created",
		slog.String("user_id", req.UserID),
		slog.String("session_id", sessionID),
		slog.String("role", string(req.Role)),
		slog.Int("evicted", len(evicted)),
	)

	return &SessionResult{
		Token:     token,
		SessionID: sessionID,
		ExpiresAt: now.Add(e.tokens.TTL()),
		Evicted:   evicted,
	}, nil
}

// VerifySession verifies token and confirms its session is still active. On success the
// session's last activity is refreshed.
//
// ip is the address of the current request. When it differs from the session's creation
// IP the configured IPMismatchPolicy decides: warn accepts and records the mismatch,
// reject fails verification. Any store failure fails verification.
func (e *Engine) VerifySession(ctx context.Context, token, ip string) (*Claims, bool) {
	if !e.ready() {
		return nil, false
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			e.metrics.Observe(MetricVerifyLatency, time.Since(start))
		}()
	}

	claims, ok := e.tokens.Verify(token)
	if !ok {
		e.verifyFailed(ctx, "", "", auditErrInvalidToken)
		return nil, false
	}
	sessionID := claims.SessionID()
	if sessionID == "" {
		e.verifyFailed(ctx, claims.UserID, "", auditErrSessionNotFound)
		return nil, false
	}

	rec, err := e.sessions.Get(ctx, claims.UserID, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		e.verifyFailed(ctx, claims.UserID, sessionID, auditErrSessionNotFound)
		return nil, false
	case errors.Is(err, session.ErrCorrupt):
		e.logger.LogAttrs(ctx, slog.LevelWarn, "session record inconsistent",
			slog.String("user_id", claims.UserID),
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		e.verifyFailed(ctx, claims.UserID, sessionID, auditErrSessionNotFound)
		return nil, false
	default:
		e.logger.LogAttrs(ctx, slog.LevelError, "session lookup failed",
			slog.String("user_id", claims.UserID),
			slog.Any("error", err),
		)
		e.verifyFailed(ctx, claims.UserID, sessionID, auditErrBackendUnavailable)
		return nil, false
	}

	if rec.UserID != claims.UserID {
		e.verifyFailed(ctx, claims.UserID, sessionID, auditErrSessionUserMismatch)
		return nil, false
	}

	if ip != "" && rec.IP != "" && ip != rec.IP {
		e.metricInc(MetricIPMismatch)
		reject := e.config.Session.IPMismatchPolicy == IPMismatchReject
		e.emitAudit(ctx, auditEventSessionIPMismatch, !reject, claims.UserID, sessionID, auditErrIPMismatch, map[string]string{
			"session_ip": rec.IP,
			"request_ip": ip,
			"policy":     string(e.config.Session.IPMismatchPolicy),
		})
		e.logger.LogAttrs(ctx, slog.LevelWarn, "session used from a different IP",
			slog.String("user_id", claims.UserID),
			slog.String("session_id", sessionID),
			slog.String("session_ip", rec.IP),
			slog.String("request_ip", ip),
			slog.Bool("rejected", reject),
		)
		if reject {
			e.metricInc(MetricVerifyFailure)
			return nil, false
		}
	}

	touched, err := e.sessions.Touch(ctx, claims.UserID, sessionID, e.now().UnixMilli())
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "session touch failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		e.verifyFailed(ctx, claims.UserID, sessionID, auditErrBackendUnavailable)
		return nil, false
	}
	if !touched {
		e.verifyFailed(ctx, claims.UserID, sessionID, auditErrSessionNotFound)
		return nil, false
	}

	e.metricInc(MetricVerifySuccess)
	return claims, true
}

func (e *Engine) verifyFailed(ctx context.Context, userID, sessionID string, code AuditErrorCode) {
	e.metricInc(MetricVerifyFailure)
	e.emitAudit(ctx, auditEventSessionRejected, false, userID, sessionID, code, nil)
}

// InvalidateSession ends one session. It reports false, with a nil error, when the session
// was already gone.
func (e *Engine) InvalidateSession(ctx context.Context, userID, sessionID string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	removed, err := e.sessions.Delete(ctx, userID, sessionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionInvalidationFailed, err)
	}
	if removed {
		e.sessionsInvalidated(ctx, userID, sessionID, "single", 1)
	}
	return removed, nil
}

// InvalidateAllSessions ends every session of userID and returns how many were removed.
func (e *Engine) InvalidateAllSessions(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.DeleteAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionInvalidationFailed, err)
	}
	if n > 0 {
		e.sessionsInvalidated(ctx, userID, "", "all", n)
	}
	return n, nil
}

// InvalidateOtherSessions ends every session of userID except keepSessionID and returns
// how many were removed.
func (e *Engine) InvalidateOtherSessions(ctx context.Context, userID, keepSessionID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.DeleteOthers(ctx, userID, keepSessionID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionInvalidationFailed, err)
	}
	if n > 0 {
		e.sessionsInvalidated(ctx, userID, keepSessionID, "others", n)
	}
	return n, nil
}

func (e *Engine) sessionsInvalidated(ctx context.Context, userID, sessionID, scope string, n int) {
	e.metricAdd(MetricSessionInvalidated, n)
	e.emitAudit(ctx, auditEventSessionInvalidated, true, userID, sessionID, "", map[string]string{
		"scope": scope,
		"count": strconv.Itoa(n),
	})
	e.logger.LogAttrs(ctx, slog.LevelInfo, "sessions invalidated",
		slog.String("user_id", userID),
		slog.String("scope", scope),
		slog.Int("count", n),
	)
}

// ListActiveSessions returns the user's active sessions, most recently active first.
// Records the store cannot decode are logged and left out of the result.
func (e *Engine) ListActiveSessions(ctx context.Context, userID string) ([]SessionRecord, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	records, err := e.sessions.List(ctx, userID)
	if errors.Is(err, session.ErrCorrupt) {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "session records inconsistent",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return records, nil
	}
	return records, err
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
