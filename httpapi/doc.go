// Package httpapi serves the authentication endpoints: login, logout, CSRF token issue,
// and listing or ending the caller's sessions.
//
// Session endpoints expect to run behind middleware.Gate, which attaches the verified
// claims to the request context. Login and logout are public paths.
//
// # What this package must NOT do
//
//   - Verify passwords itself. An [Authenticator] decides whether credentials are valid.
//   - Touch stores directly. Every state change goes through the Engine.
package httpapi
