package csrf

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/halaqah/authcore/internal"
)

const (
	// HeaderName is the request and response header carrying the token.
	HeaderName = "X-CSRF-Token"
	// FormField is the form field accepted when the header is absent.
	FormField = "csrf_token"
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 30 * time.Minute

	tokenBytes = 32
)

// DefaultExemptPaths are mutating endpoints reachable before a session exists.
func DefaultExemptPaths() []string {
	return []string{"/api/auth/login", "/api/auth/register", "/api/auth/logout"}
}

// Entry is the issued token for one session key.
type Entry struct {
	Token     string
	ExpiresAt time.Time
	Used      bool
}

// Store holds at most one Entry per session key.
type Store interface {
	Save(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Load(ctx context.Context, key string) (Entry, bool, error)
	Delete(ctx context.Context, key string) error
	// MarkUsed flags the entry as used if it still holds token and is unused. It reports
	// whether this call performed the transition.
	MarkUsed(ctx context.Context, key, token string) (bool, error)
	// Sweep removes entries that expired at or before now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Config configures a Guard.
type Config struct {
	TTL         time.Duration
	ExemptPaths []string
	Now         func() time.Time
}

// Guard issues and verifies CSRF tokens.
type Guard struct {
	store  Store
	ttl    time.Duration
	exempt map[string]struct{}
	now    func() time.Time
}

// NewGuard creates a Guard over store.
func NewGuard(store Store, cfg Config) (*Guard, error) {
	if store == nil {
		return nil, errors.New("csrf guard requires a store")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 {
		return nil, errors.New("invalid csrf ttl")
	}
	if cfg.ExemptPaths == nil {
		cfg.ExemptPaths = DefaultExemptPaths()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	exempt := make(map[string]struct{}, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = struct{}{}
	}
	return &Guard{store: store, ttl: cfg.TTL, exempt: exempt, now: cfg.Now}, nil
}

// TTL returns the lifetime of issued tokens.
func (g *Guard) TTL() time.Duration {
	return g.ttl
}

// Issue creates a fresh token for sessionKey, replacing any earlier one.
func (g *Guard) Issue(ctx context.Context, sessionKey string) (string, error) {
	if sessionKey == "" {
		return "", errors.New("csrf session key is empty")
	}
	token, err := internal.RandomHex(tokenBytes)
	if err != nil {
		return "", err
	}
	entry := Entry{Token: token, ExpiresAt: g.now().Add(g.ttl)}
	if err := g.store.Save(ctx, sessionKey, entry, g.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Check verifies candidate against the token issued for sessionKey.
//
// It returns nil on success, or one of ErrMissing, ErrExpired, ErrUsed and ErrInvalid.
// An expired entry is deleted. With oneTimeUse a successful check marks the entry used;
// the entry stays in place so a later one-time check reports ErrUsed. Checks without
// oneTimeUse ignore the used mark.
func (g *Guard) Check(ctx context.Context, sessionKey, candidate string, oneTimeUse bool) error {
	if candidate == "" || sessionKey == "" {
		return ErrMissing
	}

	entry, ok, err := g.store.Load(ctx, sessionKey)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMissing
	}
	if !g.now().Before(entry.ExpiresAt) {
		if err := g.store.Delete(ctx, sessionKey); err != nil {
			return err
		}
		return ErrExpired
	}
	if oneTimeUse && entry.Used {
		return ErrUsed
	}
	if subtle.ConstantTimeCompare([]byte(entry.Token), []byte(candidate)) != 1 {
		return ErrInvalid
	}

	if oneTimeUse {
		marked, err := g.store.MarkUsed(ctx, sessionKey, entry.Token)
		if err != nil {
			return err
		}
		if !marked {
			return ErrUsed
		}
	}
	return nil
}

// Verify is Check reduced to a boolean.
func (g *Guard) Verify(ctx context.Context, sessionKey, candidate string, oneTimeUse bool) bool {
	return g.Check(ctx, sessionKey, candidate, oneTimeUse) == nil
}

// Revoke deletes the token issued for sessionKey.
func (g *Guard) Revoke(ctx context.Context, sessionKey string) error {
	return g.store.Delete(ctx, sessionKey)
}

// Sweep removes expired entries.
func (g *Guard) Sweep(ctx context.Context) (int, error) {
	return g.store.Sweep(ctx, g.now())
}

// RequiresProtection reports whether a request with method and path must carry a token.
func (g *Guard) RequiresProtection(method, path string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return false
	}
	_, exempt := g.exempt[path]
	return !exempt
}

// SessionKey derives the store key for a request. The session token is preferred; the
// client IP and user agent stand in before login.
func SessionKey(sessionToken, ip, userAgent string) string {
	if sessionToken != "" {
		return internal.HashKey("token", sessionToken)
	}
	return internal.HashKey("anon", ip, userAgent)
}

// TokenFromRequest returns the token from the X-CSRF-Token header, falling back to the
// csrf_token form field.
func TokenFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderName)); v != "" {
		return v
	}
	return strings.TrimSpace(r.FormValue(FormField))
}
