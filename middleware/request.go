package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/halaqah/authcore"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims attached by [Gate] for an authenticated request.
func ClaimsFromContext(ctx context.Context) (*authcore.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*authcore.Claims)
	return c, ok && c != nil
}

// WithClaims attaches claims to ctx.
func WithClaims(ctx context.Context, claims *authcore.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClientIP returns the caller's address. With trustProxy the first X-Forwarded-For entry
// and then X-Real-IP are preferred over the socket address.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SessionToken returns the session token from the named cookie, falling back to an
// Authorization Bearer header.
func SessionToken(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	token, _ := bearerToken(r.Header.Get("Authorization"))
	return token
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

// SetSessionCookie stores token in the session cookie configured on engine.
func SetSessionCookie(w http.ResponseWriter, engine *authcore.Engine, token string) {
	cfg := engine.Config()
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Security.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(engine.TokenTTL().Seconds()),
		HttpOnly: true,
		Secure:   cfg.Security.ProductionMode,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, engine *authcore.Engine) {
	cfg := engine.Config()
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Security.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Security.ProductionMode,
		SameSite: http.SameSiteStrictMode,
	})
}
