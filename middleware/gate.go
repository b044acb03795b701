package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"filippo.io/csrf"
	"github.com/halaqah/authcore"
	csrftoken "github.com/halaqah/authcore/internal/csrf"
	"github.com/halaqah/authcore/permission"
)

// DefaultPublicPaths are reachable without a session. "/" matches only the site root;
// every other entry also covers the paths below it.
func DefaultPublicPaths() []string {
	return []string{"/", "/login", "/register", "/api/auth", "/api/csrf-token", "/static", "/favicon.ico", "/healthz"}
}

// GateConfig configures [Gate].
type GateConfig struct {
	// PublicPaths bypass authentication. Nil means DefaultPublicPaths.
	PublicPaths []string
	// LoginPath receives unauthenticated page requests. Default "/login".
	LoginPath string
	// TrustProxy reads the client IP from X-Forwarded-For and X-Real-IP.
	TrustProxy bool
	// TrustedOrigins are cross-origin callers allowed to send mutating requests.
	TrustedOrigins []string
}

type gate struct {
	engine       *authcore.Engine
	cfg          GateConfig
	cookieName   string
	production   bool
	crossOrigin  *csrf.Protection
	logger       *slog.Logger
	publicPrefix []string
	publicRoot   bool
}

// Gate returns middleware that authenticates and authorizes every request with engine.
// Trusted origins from both cfg and the engine's CSRF configuration are accepted.
func Gate(engine *authcore.Engine, cfg GateConfig) (func(http.Handler) http.Handler, error) {
	if engine == nil {
		return nil, errors.New("gate requires an engine")
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.PublicPaths == nil {
		cfg.PublicPaths = DefaultPublicPaths()
	}

	engineCfg := engine.Config()
	g := &gate{
		engine:      engine,
		cfg:         cfg,
		cookieName:  engineCfg.Security.CookieName,
		production:  engineCfg.Security.ProductionMode,
		crossOrigin: csrf.New(),
		logger:      engine.Logger(),
	}
	for _, p := range cfg.PublicPaths {
		if p == "/" {
			g.publicRoot = true
			continue
		}
		g.publicPrefix = append(g.publicPrefix, p)
	}
	origins := append(append([]string{}, engineCfg.CSRF.TrustedOrigins...), cfg.TrustedOrigins...)
	for _, origin := range origins {
		if err := g.crossOrigin.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("trusted origin %q: %w", origin, err)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}, nil
}

func (g *gate) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	SetSecurityHeaders(w.Header(), g.production)
	r.Header.Del("X-User-ID")
	r.Header.Del("X-User-Role")

	ip := ClientIP(r, g.cfg.TrustProxy)
	ctx := authcore.WithUserAgent(authcore.WithClientIP(r.Context(), ip), r.UserAgent())
	r = r.WithContext(ctx)
	path := r.URL.Path

	// -------- RATE LIMIT --------
	decision, err := g.engine.AllowRequest(ctx, path, ip)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	if decision.Limit > 0 {
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       "too many requests",
			"retry_after": decision.RetryAfter,
		})
		return
	}

	// -------- PUBLIC PATHS --------
	if g.isPublic(path) {
		next.ServeHTTP(w, r)
		return
	}

	// -------- SESSION --------
	token := SessionToken(r, g.cookieName)
	if token == "" {
		g.redirectToLogin(w, r)
		return
	}
	claims, ok := g.engine.VerifySession(ctx, token, ip)
	if !ok {
		g.redirectToLogin(w, r)
		return
	}

	// -------- ROLE NAMESPACE --------
	if required, guarded := g.engine.Roles().Required(path); guarded && required != claims.Role {
		g.engine.RecordRoleMismatch()
		g.logger.LogAttrs(ctx, slog.LevelInfo, "role namespace mismatch",
			slog.String("user_id", claims.UserID),
			slog.String("role", string(claims.Role)),
			slog.String("required", string(required)),
			slog.String("path", path),
		)
		http.Redirect(w, r, dashboardFor(claims.Role), http.StatusFound)
		return
	}

	// -------- CSRF --------
	if g.engine.RequiresCSRF(r.Method, path) {
		if err := g.crossOrigin.Check(r); err != nil {
			g.engine.RecordCSRFRejection(ctx, authcore.CSRFCrossOrigin)
			writeJSONError(w, http.StatusForbidden, "cross-origin request rejected")
			return
		}
		key := g.engine.CSRFSessionKey(token, ip, r.UserAgent())
		if err := g.engine.CheckCSRFToken(ctx, key, csrftoken.TokenFromRequest(r)); err != nil {
			if errors.Is(err, csrftoken.ErrBackendUnavailable) {
				writeJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
				return
			}
			writeJSONError(w, http.StatusForbidden, err.Error())
			return
		}
	}

	// -------- FORWARD --------
	r.Header.Set("X-User-ID", claims.UserID)
	r.Header.Set("X-User-Role", string(claims.Role))
	next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
}

func (g *gate) isPublic(path string) bool {
	if path == "/" {
		return g.publicRoot
	}
	for _, p := range g.publicPrefix {
		if permission.MatchPrefix(path, p) {
			return true
		}
	}
	return false
}

func (g *gate) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	ClearSessionCookie(w, g.engine)
	target := g.cfg.LoginPath + "?redirect=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusFound)
}

func dashboardFor(role permission.Role) string {
	if !role.Valid() {
		return "/"
	}
	return role.Dashboard()
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
