// Package internal contains helper utilities that are private to authcore: secure random
// generation, device fingerprinting and key hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - csrf: per-session CSRF token guard with memory and Redis backends
//   - rate: fixed-window rate limiting with memory and Redis backends
//   - security: configuration posture report
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
