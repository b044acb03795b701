// Package middleware adapts an [authcore.Engine] to net/http.
//
// # Gate
//
// [Gate] runs every request through one short-circuit pipeline:
//
//  1. security headers (set on every outcome)
//  2. rate limit by client IP and path class, 429 on denial
//  3. public path bypass
//  4. session token from the cookie, or a Bearer header
//  5. Engine.VerifySession, redirect to login on failure
//  6. role namespace check, redirect to the user's own dashboard on mismatch
//  7. cross-origin and CSRF token checks for mutating requests, 403 on failure
//  8. claims attached to the request context
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Token, session, rate limit
// and CSRF decisions are all made by the Engine.
//
// # What this package must NOT do
//
//   - Parse or sign tokens directly.
//   - Access Redis.
//   - Authenticate passwords; see httpapi and directory.
package middleware
