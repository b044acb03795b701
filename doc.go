// Package authcore provides the session and token lifecycle core of the teaching
// platform: signed session tokens, per-user session tracking with a cap, anomaly
// detection, selective invalidation, request rate limiting and CSRF protection.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], and value
// types (SessionResult, AnomalyReport, MetricsSnapshot, etc.). Storage backends, the rate
// limiter, the CSRF guard and audit dispatch live under session/ and internal/; HTTP
// concerns live in middleware/ and httpapi/.
//
// # What this package must NOT do
//
//   - Write HTTP responses or read cookies.
//   - Verify passwords or talk to the identity provider; callers hand in an already
//     authenticated user id, role and email.
//   - Import any sub-package that re-imports authcore (no import cycles).
//
// # Lifecycle
//
// Build the engine once at startup, run [Engine.RunSweeper] in its own goroutine, and
// call [Engine.Close] on shutdown.
package authcore
