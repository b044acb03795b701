package httpapi

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/halaqah/authcore"
	"github.com/halaqah/authcore/middleware"
)

type deviceView struct {
	UserAgent   string `json:"user_agent"`
	Fingerprint string `json:"fingerprint"`
}

type sessionView struct {
	SessionID    string     `json:"session_id"`
	Device       deviceView `json:"device"`
	IP           string     `json:"ip"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	Active       bool       `json:"active"`
	Current      bool       `json:"current"`
}

type listSessionsResponse struct {
	Sessions  []sessionView          `json:"sessions"`
	Anomalies authcore.AnomalyReport `json:"suspicious_activity"`
}

// ListSessions returns the caller's active sessions with redacted IPs and the anomaly
// report for them.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx := r.Context()
	records, err := h.engine.ListActiveSessions(ctx, claims.UserID)
	if err != nil {
		h.logger.LogAttrs(ctx, slog.LevelError, "list sessions failed", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	resp := listSessionsResponse{
		Sessions:  make([]sessionView, 0, len(records)),
		Anomalies: h.engine.AnalyzeSessions(ctx, claims.UserID, records),
	}
	current := claims.SessionID()
	for _, rec := range records {
		resp.Sessions = append(resp.Sessions, sessionView{
			SessionID: rec.SessionID,
			Device: deviceView{
				UserAgent:   rec.UserAgent,
				Fingerprint: rec.DeviceFingerprint,
			},
			IP:           MaskIP(rec.IP),
			CreatedAt:    time.UnixMilli(rec.CreatedAt).UTC(),
			LastActivity: time.UnixMilli(rec.LastActivity).UTC(),
			Active:       rec.Active,
			Current:      rec.SessionID == current,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Session deletion actions accepted by DeleteSessions.
const (
	ActionCurrent  = "current"
	ActionSpecific = "specific"
	ActionOthers   = "others"
	ActionAll      = "all"
)

type deleteSessionsRequest struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id"`
}

// DeleteSessions ends sessions selected by action and reports how many were removed.
// Ending the current session, directly or through "all", also clears the cookie.
func (h *Handler) DeleteSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req deleteSessionsRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	var (
		n           int
		err         error
		clearCookie bool
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case ActionCurrent:
		var removed bool
		removed, err = h.engine.InvalidateSession(ctx, claims.UserID, claims.SessionID())
		if removed {
			n = 1
		}
		clearCookie = true
	case ActionSpecific:
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, "session_id is required")
			return
		}
		var removed bool
		removed, err = h.engine.InvalidateSession(ctx, claims.UserID, req.SessionID)
		if removed {
			n = 1
		}
		clearCookie = req.SessionID == claims.SessionID()
	case ActionOthers:
		n, err = h.engine.InvalidateOtherSessions(ctx, claims.UserID, claims.SessionID())
	case ActionAll:
		n, err = h.engine.InvalidateAllSessions(ctx, claims.UserID)
		clearCookie = true
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err != nil {
		h.logger.LogAttrs(ctx, slog.LevelError, "session invalidation failed",
			slog.String("action", req.Action),
			slog.Any("error", err),
		)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	if clearCookie {
		middleware.ClearSessionCookie(w, h.engine)
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

// MaskIP redacts the host part of an address: the last IPv4 octet becomes "xxx" and the
// last IPv6 group becomes "xxxx". Unparseable input is fully redacted.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "xxx"
	}
	if addr.Is4() || addr.Is4In6() {
		s := addr.Unmap().String()
		return s[:strings.LastIndexByte(s, '.')] + ".xxx"
	}
	s := addr.WithZone("").String()
	return s[:strings.LastIndexByte(s, ':')] + ":xxxx"
}
