package rate

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// Class groups request paths that share a rate limit policy.
type Class string

const (
	ClassPage Class = "page"
	ClassAPI  Class = "api"
	ClassAuth Class = "auth"
)

// ClassifyPath returns the class governing path.
func ClassifyPath(path string) Class {
	switch {
	case path == "/api/auth" || strings.HasPrefix(path, "/api/auth/"):
		return ClassAuth
	case path == "/api" || strings.HasPrefix(path, "/api/"):
		return ClassAPI
	default:
		return ClassPage
	}
}

// Policy is the budget for one class.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicies returns the stock budgets: 200 page, 50 API and 10 auth requests per
// minute per client.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassPage: {Limit: 200, Window: time.Minute},
		ClassAPI:  {Limit: 50, Window: time.Minute},
		ClassAuth: {Limit: 10, Window: time.Minute},
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Class     Class
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is the whole number of seconds until the window closes, rounded up.
	// It is zero when the request was allowed.
	RetryAfter int
}

// Backend counts hits in fixed windows.
type Backend interface {
	// Take records one hit for key against limit. It reports whether the hit fits in the
	// current window, the window's hit count, and when the window closes.
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (allowed bool, count int, resetAt time.Time, err error)
}

// Limiter applies per-class policies over a Backend.
type Limiter struct {
	backend  Backend
	policies map[Class]Policy
	now      func() time.Time
}

// New creates a Limiter. A nil clock means time.Now.
func New(backend Backend, policies map[Class]Policy, now func() time.Time) (*Limiter, error) {
	if backend == nil {
		return nil, errors.New("rate limiter requires a backend")
	}
	if now == nil {
		now = time.Now
	}
	copied := make(map[Class]Policy, len(policies))
	for class, p := range policies {
		if p.Limit <= 0 || p.Window <= 0 {
			return nil, errors.New("rate limit policy for " + string(class) + " must have positive limit and window")
		}
		copied[class] = p
	}
	return &Limiter{backend: backend, policies: copied, now: now}, nil
}

// Policy returns the configured policy for class.
func (l *Limiter) Policy(class Class) (Policy, bool) {
	p, ok := l.policies[class]
	return p, ok
}

// Allow records a hit for id under class and returns the decision.
func (l *Limiter) Allow(ctx context.Context, class Class, id string) (Decision, error) {
	policy, ok := l.policies[class]
	if !ok {
		return Decision{}, ErrUnknownClass
	}

	now := l.now()
	allowed, count, resetAt, err := l.backend.Take(ctx, string(class)+":"+id, policy.Limit, policy.Window, now)
	if err != nil {
		return Decision{Class: class, Limit: policy.Limit}, err
	}

	d := Decision{
		Allowed: allowed,
		Class:   class,
		Limit:   policy.Limit,
		ResetAt: resetAt,
	}
	if remaining := policy.Limit - count; remaining > 0 {
		d.Remaining = remaining
	}
	if !allowed {
		d.RetryAfter = retryAfterSeconds(resetAt.Sub(now))
	}
	return d, nil
}

// Check is Allow reduced to an error: nil, ErrRateLimited, or a backend failure.
func (l *Limiter) Check(ctx context.Context, class Class, id string) error {
	d, err := l.Allow(ctx, class, id)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return ErrRateLimited
	}
	return nil
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
