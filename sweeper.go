package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// rateSweeper is implemented by in-process rate limit backends. Redis windows expire on
// their own.
type rateSweeper interface {
	Sweep(now time.Time) int
}

// Sweep removes sessions idle for longer than Session.MaxInactive, expired CSRF tokens
// and closed rate limit windows. Each store is swept even if an earlier one fails; the
// returned error joins every failure.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if !e.ready() {
		return res, ErrEngineNotReady
	}

	now := e.now()
	var errs []error

	cutoff := now.Add(-e.config.Session.MaxInactive).UnixMilli()
	n, err := e.sessions.Sweep(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("sessions: %w", err))
	}
	res.Sessions = n
	e.metricAdd(MetricSessionSwept, n)

	if e.csrf != nil {
		n, err := e.csrf.Sweep(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("csrf: %w", err))
		}
		res.CSRFTokens = n
	}

	if s, ok := e.rateBackend.(rateSweeper); ok {
		res.RateWindows = s.Sweep(now)
	}

	if res.Sessions > 0 || res.CSRFTokens > 0 {
		e.emitAudit(ctx, auditEventSweep, len(errs) == 0, "", "", "", map[string]string{
			"sessions":    strconv.Itoa(res.Sessions),
			"csrf_tokens": strconv.Itoa(res.CSRFTokens),
		})
	}
	return res, errors.Join(errs...)
}

// RunSweeper calls Sweep every Session.SweepInterval until ctx is done. Failures and
// panics inside a sweep are logged and the next tick proceeds normally.
func (e *Engine) RunSweeper(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ticker := time.NewTicker(e.config.Session.SweepInterval)
	defer ticker.Stop()

	e.logger.Info("session sweeper started", slog.Duration("interval", e.config.Session.SweepInterval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("session sweeper stopped")
			return nil
		case <-ticker.C:
			if !e.ready() {
				return nil
			}
			e.sweepOnce(ctx)
		}
	}
}

func (e *Engine) sweepOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.LogAttrs(ctx, slog.LevelError, "sweep panicked", slog.Any("panic", r))
		}
	}()

	start := time.Now()
	res, err := e.Sweep(ctx)
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "sweep failed", slog.Any("error", err))
	}
	e.logger.LogAttrs(ctx, slog.LevelDebug, "sweep finished",
		slog.Int("sessions", res.Sessions),
		slog.Int("csrf_tokens", res.CSRFTokens),
		slog.Int("rate_windows", res.RateWindows),
		slog.Duration("took", time.Since(start)),
	)
}
