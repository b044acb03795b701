// Package csrf implements the synchronizer-token CSRF guard: one random token per session
// key, re-issued on demand, verified in constant time and optionally consumed on first
// use.
//
// # Session keys
//
// A session key is the SHA-256 of the session token when the caller has one, otherwise of
// the client IP and user agent (see [SessionKey]). Raw tokens never reach the store.
//
// # What this package must NOT do
//
//   - Write HTTP responses (the request gate maps errors to 403 bodies).
//   - Compare tokens with ordinary string equality.
//   - Be imported outside the authcore module.
package csrf
