package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/halaqah/authcore"
)

// serverConfig is the process configuration read from the environment.
type serverConfig struct {
	Secret   string        `env:"AUTH_SECRET,required,unset"`
	Issuer   string        `env:"AUTH_ISSUER" envDefault:"authcore"`
	TokenTTL time.Duration `env:"SESSION_TTL" envDefault:"168h"`

	MaxPerUser    int           `env:"SESSION_MAX_PER_USER" envDefault:"5"`
	MaxInactive   time.Duration `env:"SESSION_MAX_INACTIVE" envDefault:"168h"`
	IPPolicy      string        `env:"SESSION_IP_POLICY" envDefault:"warn"`
	CookieName    string        `env:"SESSION_COOKIE_NAME" envDefault:"session_token"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30m"`

	RateEnabled   bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateWindow    time.Duration `env:"RATE_WINDOW" envDefault:"1m"`
	RatePageLimit int           `env:"RATE_PAGE_LIMIT" envDefault:"200"`
	RateAPILimit  int           `env:"RATE_API_LIMIT" envDefault:"50"`
	RateAuthLimit int           `env:"RATE_AUTH_LIMIT" envDefault:"10"`

	CSRFTTL            time.Duration `env:"CSRF_TTL" envDefault:"30m"`
	CSRFOneTime        bool          `env:"CSRF_ONE_TIME" envDefault:"false"`
	CSRFTrustedOrigins []string      `env:"CSRF_TRUSTED_ORIGINS" envSeparator:","`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD,unset"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"ac"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	UsersFile  string `env:"USERS_FILE"`
	Production bool   `env:"PRODUCTION" envDefault:"false"`
	TrustProxy bool   `env:"TRUST_PROXY" envDefault:"false"`
	AuditLog   bool   `env:"AUDIT_LOG" envDefault:"true"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// loadConfig reads an optional .env file and then the process environment. Variables
// already set in the environment win over the file.
func loadConfig(envFile string) (serverConfig, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return serverConfig{}, fmt.Errorf("load %s: %w", envFile, err)
	}
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return serverConfig{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// engineConfig maps the environment onto the engine defaults.
func (c serverConfig) engineConfig() (authcore.Config, error) {
	policy, err := authcore.ParseIPMismatchPolicy(c.IPPolicy)
	if err != nil {
		return authcore.Config{}, err
	}

	cfg := authcore.DefaultConfig()
	cfg.Token.Secret = []byte(c.Secret)
	cfg.Token.Issuer = c.Issuer
	cfg.Token.TTL = c.TokenTTL

	cfg.Session.MaxPerUser = c.MaxPerUser
	cfg.Session.MaxInactive = c.MaxInactive
	cfg.Session.IPMismatchPolicy = policy
	cfg.Session.SweepInterval = c.SweepInterval
	cfg.Session.RedisPrefix = c.RedisPrefix

	cfg.RateLimit.Enabled = c.RateEnabled
	cfg.RateLimit.Page = authcore.RatePolicy{Limit: c.RatePageLimit, Window: c.RateWindow}
	cfg.RateLimit.API = authcore.RatePolicy{Limit: c.RateAPILimit, Window: c.RateWindow}
	cfg.RateLimit.Auth = authcore.RatePolicy{Limit: c.RateAuthLimit, Window: c.RateWindow}

	cfg.CSRF.TTL = c.CSRFTTL
	cfg.CSRF.OneTimeUse = c.CSRFOneTime
	cfg.CSRF.TrustedOrigins = trimAll(c.CSRFTrustedOrigins)

	cfg.Audit.Enabled = c.AuditLog
	cfg.Security.ProductionMode = c.Production
	cfg.Security.CookieName = c.CookieName

	if err := cfg.Validate(); err != nil {
		return authcore.Config{}, err
	}
	return cfg, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
