// Package rate implements the request rate limiter: one fixed-window algorithm applied
// uniformly to every path class, with an in-process backend and a Redis backend.
//
// # Window semantics
//
// A window opens on the first hit for a key and lasts Policy.Window. Hits beyond
// Policy.Limit inside the window are denied until it closes. Keys are "<class>:<id>",
// where id is normally the client IP:
//   - page: any non-API path
//   - api:  paths under /api
//   - auth: paths under /api/auth
//
// # What this package must NOT do
//
//   - Decide HTTP responses (the request gate owns status codes and headers).
//   - Be imported outside the authcore module.
package rate
