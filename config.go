package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/halaqah/authcore/internal/csrf"
	"github.com/halaqah/authcore/internal/rate"
	"github.com/halaqah/authcore/jwt"
)

// Config is the complete engine configuration.
//
// Config instances are intended to be configured during initialization and then treated
// as immutable.
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	Anomaly   AnomalyConfig
	RateLimit RateLimitConfig
	CSRF      CSRFConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures session token signing.
type TokenConfig struct {
	// Secret signs and verifies tokens. It must be at least 32 characters.
	Secret   []byte
	TTL      time.Duration
	Issuer   string
	Audience string
	Leeway   time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// IPMismatchPolicy decides what VerifySession does when a request arrives from an IP
// other than the one the session was created from.
type IPMismatchPolicy string

const (
	// IPMismatchWarn logs, audits and counts the mismatch but accepts the request.
	IPMismatchWarn IPMismatchPolicy = "warn"
	// IPMismatchReject fails verification.
	IPMismatchReject IPMismatchPolicy = "reject"
)

// SessionConfig configures the session store.
type SessionConfig struct {
	MaxPerUser       int
	MaxInactive      time.Duration
	SweepInterval    time.Duration
	IPMismatchPolicy IPMismatchPolicy
	RedisPrefix      string
}

/*
====================================
ANOMALY CONFIG
====================================
*/

// AnomalyConfig holds the thresholds above which a user's sessions look suspicious.
// Each rule fires when the observed value is strictly greater than its threshold.
type AnomalyConfig struct {
	MaxSessions int
	MaxIPs      int
	MaxDevices  int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy allows Limit requests per client in each fixed Window.
type RatePolicy struct {
	Limit  int
	Window time.Duration
}

func (p RatePolicy) toRate() rate.Policy {
	return rate.Policy{Limit: p.Limit, Window: p.Window}
}

// RateLimitConfig holds one fixed-window policy per path class.
type RateLimitConfig struct {
	Enabled bool
	Page    RatePolicy
	API     RatePolicy
	Auth    RatePolicy
}

func (c RateLimitConfig) policies() map[rate.Class]rate.Policy {
	return map[rate.Class]rate.Policy{
		rate.ClassPage: c.Page.toRate(),
		rate.ClassAPI:  c.API.toRate(),
		rate.ClassAuth: c.Auth.toRate(),
	}
}

/*
====================================
CSRF CONFIG
====================================
*/

// CSRFConfig configures the CSRF guard.
type CSRFConfig struct {
	Enabled        bool
	TTL            time.Duration
	OneTimeUse     bool
	ExemptPaths    []string
	TrustedOrigins []string
}

/*
====================================
AUDIT / METRICS / SECURITY
====================================
*/

// AuditConfig controls audit dispatcher buffering.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles counters and the verification latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// SecurityConfig holds deployment-wide switches.
type SecurityConfig struct {
	// ProductionMode enables Secure cookies and HSTS.
	ProductionMode bool
	CookieName     string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the stock configuration. The token secret is left empty and must
// be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:    jwt.DefaultTTL,
			Issuer: "authcore",
		},
		Session: SessionConfig{
			MaxPerUser:       5,
			MaxInactive:      7 * 24 * time.Hour,
			SweepInterval:    30 * time.Minute,
			IPMismatchPolicy: IPMismatchWarn,
			RedisPrefix:      "ac",
		},
		Anomaly: AnomalyConfig{
			MaxSessions: 3,
			MaxIPs:      2,
			MaxDevices:  3,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Page:    RatePolicy{Limit: 200, Window: time.Minute},
			API:     RatePolicy{Limit: 50, Window: time.Minute},
			Auth:    RatePolicy{Limit: 10, Window: time.Minute},
		},
		CSRF: CSRFConfig{
			Enabled:     true,
			TTL:         csrf.DefaultTTL,
			OneTimeUse:  false,
			ExemptPaths: csrf.DefaultExemptPaths(),
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Security: SecurityConfig{
			ProductionMode: false,
			CookieName:     "session_token",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	out.CSRF.ExemptPaths = cloneStrings(cfg.CSRF.ExemptPaths)
	out.CSRF.TrustedOrigins = cloneStrings(cfg.CSRF.TrustedOrigins)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cfg and returns a *ConfigError describing the first problem found.
func (c *Config) Validate() error {
	// Token
	if len(c.Token.Secret) == 0 {
		return configErr("Token.Secret", jwt.ErrSecretMissing)
	}
	if len(c.Token.Secret) < jwt.MinSecretLength {
		return configErr("Token.Secret", jwt.ErrSecretTooShort)
	}
	if c.Token.TTL <= 0 {
		return configErr("Token.TTL", errors.New("must be > 0"))
	}

	// Session
	if c.Session.MaxPerUser < 0 {
		return configErr("Session.MaxPerUser", errors.New("must be >= 0"))
	}
	if c.Session.MaxInactive <= 0 {
		return configErr("Session.MaxInactive", errors.New("must be > 0"))
	}
	if c.Session.SweepInterval <= 0 {
		return configErr("Session.SweepInterval", errors.New("must be > 0"))
	}
	switch c.Session.IPMismatchPolicy {
	case IPMismatchWarn, IPMismatchReject:
	default:
		return configErr("Session.IPMismatchPolicy", fmt.Errorf("unknown policy %q", c.Session.IPMismatchPolicy))
	}

	// Anomaly
	if c.Anomaly.MaxSessions < 0 || c.Anomaly.MaxIPs < 0 || c.Anomaly.MaxDevices < 0 {
		return configErr("Anomaly", errors.New("thresholds must be >= 0"))
	}

	// Rate limit
	if c.RateLimit.Enabled {
		for class, p := range c.RateLimit.policies() {
			if p.Limit <= 0 || p.Window <= 0 {
				return configErr("RateLimit."+string(class), errors.New("limit and window must be > 0"))
			}
		}
	}

	// CSRF
	if c.CSRF.Enabled && c.CSRF.TTL <= 0 {
		return configErr("CSRF.TTL", errors.New("must be > 0"))
	}
	for _, origin := range c.CSRF.TrustedOrigins {
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return configErr("CSRF.TrustedOrigins", fmt.Errorf("origin %q must include a scheme", origin))
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return configErr("Audit.BufferSize", errors.New("must be > 0 when audit is enabled"))
	}

	if strings.TrimSpace(c.Security.CookieName) == "" {
		return configErr("Security.CookieName", errors.New("must not be empty"))
	}

	return nil
}

// ParseIPMismatchPolicy maps a configuration string to a policy.
func ParseIPMismatchPolicy(s string) (IPMismatchPolicy, error) {
	p := IPMismatchPolicy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case IPMismatchWarn, IPMismatchReject:
		return p, nil
	case "":
		return IPMismatchWarn, nil
	}
	return "", configErr("Session.IPMismatchPolicy", fmt.Errorf("unknown policy %q", s))
}
