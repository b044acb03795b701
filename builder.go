package authcore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/halaqah/authcore/internal/audit"
	"github.com/halaqah/authcore/internal/csrf"
	"github.com/halaqah/authcore/internal/rate"
	"github.com/halaqah/authcore/jwt"
	"github.com/halaqah/authcore/permission"
	"github.com/halaqah/authcore/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Each Builder builds at most once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	sessionStore session.Store
	roles        *permission.Registry
	auditSink    AuditSink
	logger       *slog.Logger
	now          func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSecret sets the token signing secret.
func (b *Builder) WithSecret(secret []byte) *Builder {
	b.config.Token.Secret = cloneBytes(secret)
	return b
}

// WithRedis backs sessions, rate limit windows and CSRF tokens with Redis. Without it
// every store is in-process.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSessionStore overrides the session store chosen by WithRedis.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessionStore = store
	return b
}

// WithRoles overrides the default role namespace registry. The registry is frozen by
// Build.
func (b *Builder) WithRoles(registry *permission.Registry) *Builder {
	b.roles = registry
	return b
}

// WithAuditSink enables audit dispatch to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine. Configuration problems are
// returned as *ConfigError.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// -------- TOKEN CODEC --------
	tokens, err := jwt.NewManager(jwt.Config{
		Secret:   cfg.Token.Secret,
		TTL:      cfg.Token.TTL,
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
		Leeway:   cfg.Token.Leeway,
		Now:      now,
	})
	if err != nil {
		return nil, configErr("Token", err)
	}

	// -------- ROLE NAMESPACES --------
	roles := b.roles
	if roles == nil {
		roles = permission.DefaultRegistry()
	}
	roles.Freeze()

	// -------- SESSION STORE --------
	sessions := b.sessionStore
	if sessions == nil {
		if b.redis != nil {
			sessions = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.MaxInactive)
		} else {
			sessions = session.NewMemoryStore()
		}
	}

	engine := &Engine{
		config:   cfg,
		tokens:   tokens,
		sessions: sessions,
		roles:    roles,
		metrics:  NewMetrics(cfg.Metrics),
		logger:   logger,
		now:      now,
	}

	// -------- RATE LIMITER --------
	if cfg.RateLimit.Enabled {
		var backend rate.Backend
		if b.redis != nil {
			backend = rate.NewRedisBackend(b.redis, cfg.Session.RedisPrefix)
		} else {
			backend = rate.NewMemoryBackend()
		}
		limiter, err := rate.New(backend, cfg.RateLimit.policies(), now)
		if err != nil {
			return nil, configErr("RateLimit", err)
		}
		engine.limiter = limiter
		engine.rateBackend = backend
	}

	// -------- CSRF GUARD --------
	if cfg.CSRF.Enabled {
		var store csrf.Store
		if b.redis != nil {
			store = csrf.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
		} else {
			store = csrf.NewMemoryStore()
		}
		guard, err := csrf.NewGuard(store, csrf.Config{
			TTL:         cfg.CSRF.TTL,
			ExemptPaths: cfg.CSRF.ExemptPaths,
			Now:         now,
		})
		if err != nil {
			return nil, configErr("CSRF", err)
		}
		engine.csrf = guard
		engine.csrfStore = store
	}

	// -------- AUDIT --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true

	backendName := "memory"
	if b.redis != nil {
		backendName = "redis"
	}
	logger.Info("auth engine ready",
		slog.String("backend", backendName),
		slog.Int("max_sessions_per_user", cfg.Session.MaxPerUser),
		slog.String("ip_mismatch_policy", string(cfg.Session.IPMismatchPolicy)),
		slog.Bool("rate_limit", cfg.RateLimit.Enabled),
		slog.Bool("csrf", cfg.CSRF.Enabled),
	)

	return engine, nil
}
