package authcore

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/halaqah/authcore/internal/audit"
	"github.com/halaqah/authcore/internal/csrf"
	"github.com/halaqah/authcore/internal/rate"
	"github.com/halaqah/authcore/jwt"
	"github.com/halaqah/authcore/permission"
	"github.com/halaqah/authcore/session"
)

// Engine composes the token codec, session store, rate limiter and CSRF guard.
//
// Engine instances are built once by [Builder.Build] and are safe for concurrent use.
type Engine struct {
	config Config

	tokens   *jwt.Manager
	sessions session.Store
	roles    *permission.Registry

	limiter     *rate.Limiter
	rateBackend rate.Backend

	csrf      *csrf.Guard
	csrfStore csrf.Store

	audit   *audit.Dispatcher
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	closed atomic.Bool
}

// resettable is implemented by in-process backends that drop their state on Close.
type resettable interface {
	Reset()
}

// Close stops the audit dispatcher and clears in-process stores. Redis-backed state is
// left in place for other instances.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	for _, backend := range []any{e.sessions, e.rateBackend, e.csrfStore} {
		if r, ok := backend.(resettable); ok {
			r.Reset()
		}
	}
	e.logger.Info("auth engine closed")
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Roles returns the frozen registry mapping path namespaces to roles.
func (e *Engine) Roles() *permission.Registry {
	return e.roles
}

// TokenTTL returns the lifetime of issued session tokens.
func (e *Engine) TokenTTL() time.Duration {
	return e.tokens.TTL()
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// AuditDropped returns how many audit events were dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current metric values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// RecordRoleMismatch counts a request redirected away from another role's namespace.
func (e *Engine) RecordRoleMismatch() {
	e.metricInc(MetricRoleMismatch)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	for i := 0; i < n; i++ {
		e.metricInc(id)
	}
}

func (e *Engine) ready() bool {
	return e != nil && !e.closed.Load()
}
