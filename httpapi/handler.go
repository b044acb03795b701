package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/halaqah/authcore"
	"github.com/halaqah/authcore/internal/csrf"
	"github.com/halaqah/authcore/middleware"
	"github.com/halaqah/authcore/permission"
)

// ErrInvalidCredentials is returned by an Authenticator when the email or password is
// wrong. The HTTP response does not say which.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is an authenticated user as reported by the identity provider.
type Identity struct {
	UserID string
	Role   permission.Role
	Email  string
}

// Authenticator checks login credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (Identity, error)
}

// Options configures a Handler.
type Options struct {
	// TrustProxy must match the Gate setting so both derive the same client IP.
	TrustProxy bool
	// MaxBodyBytes caps JSON request bodies. Default 16 KiB.
	MaxBodyBytes int64
}

// Handler serves the authentication API.
type Handler struct {
	engine *authcore.Engine
	auth   Authenticator
	opts   Options
	logger *slog.Logger
}

// New returns a Handler. auth may be nil when logins are handled elsewhere; the login
// endpoint then responds 501.
func New(engine *authcore.Engine, auth Authenticator, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 16 << 10
	}
	return &Handler{
		engine: engine,
		auth:   auth,
		opts:   opts,
		logger: engine.Logger(),
	}
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/logout", h.Logout)
	mux.HandleFunc("GET /api/csrf-token", h.CSRFToken)
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("DELETE /api/sessions", h.DeleteSessions)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Redirect  string    `json:"redirect"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login authenticates email and password, creates a session and sets the session cookie.
// A CSRF token for the new session is returned in the X-CSRF-Token header.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		writeError(w, http.StatusNotImplemented, "login is not configured")
		return
	}

	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	ctx := r.Context()
	identity, err := h.auth.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		h.logger.LogAttrs(ctx, slog.LevelError, "authenticator failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	ip := middleware.ClientIP(r, h.opts.TrustProxy)
	res, err := h.engine.CreateSession(ctx, authcore.SessionRequest{
		UserID: identity.UserID,
		Role:   identity.Role,
		Email:  identity.Email,
		Device: authcore.DeviceInfo{
			UserAgent:      r.UserAgent(),
			AcceptLanguage: r.Header.Get("Accept-Language"),
		},
		IP: ip,
	})
	if err != nil {
		h.logger.LogAttrs(ctx, slog.LevelError, "session creation failed",
			slog.String("user_id", identity.UserID),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	middleware.SetSessionCookie(w, h.engine, res.Token)
	if h.engine.CSRFEnabled() {
		key := h.engine.CSRFSessionKey(res.Token, ip, r.UserAgent())
		if token, err := h.engine.IssueCSRFToken(ctx, key); err == nil {
			w.Header().Set(csrf.HeaderName, token)
		}
	}

	writeJSON(w, http.StatusOK, loginResponse{
		SessionID: res.SessionID,
		Role:      string(identity.Role),
		Redirect:  identity.Role.Dashboard(),
		ExpiresAt: res.ExpiresAt,
	})
}

// Logout ends the caller's session, if it is still valid, and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := h.engine.Config()
	ip := middleware.ClientIP(r, h.opts.TrustProxy)

	if token := middleware.SessionToken(r, cfg.Security.CookieName); token != "" {
		if claims, ok := h.engine.VerifySession(ctx, token, ip); ok {
			if _, err := h.engine.InvalidateSession(ctx, claims.UserID, claims.SessionID()); err != nil {
				h.logger.LogAttrs(ctx, slog.LevelError, "logout invalidation failed", slog.Any("error", err))
				writeError(w, http.StatusInternalServerError, "logout failed")
				return
			}
		}
		_ = h.engine.RevokeCSRFToken(ctx, h.engine.CSRFSessionKey(token, ip, r.UserAgent()))
	}

	middleware.ClearSessionCookie(w, h.engine)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// CSRFToken issues a CSRF token bound to the caller's session, or to the caller's IP and
// user agent before login.
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	if !h.engine.CSRFEnabled() {
		writeError(w, http.StatusNotFound, "csrf protection disabled")
		return
	}
	cfg := h.engine.Config()
	key := h.engine.CSRFSessionKey(
		middleware.SessionToken(r, cfg.Security.CookieName),
		middleware.ClientIP(r, h.opts.TrustProxy),
		r.UserAgent(),
	)
	token, err := h.engine.IssueCSRFToken(r.Context(), key)
	if err != nil {
		h.logger.LogAttrs(r.Context(), slog.LevelError, "csrf issue failed", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	w.Header().Set(csrf.HeaderName, token)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
