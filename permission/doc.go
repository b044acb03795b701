// Package permission defines the closed set of platform roles and the registry that maps
// URL path namespaces to the role allowed to enter them.
//
// # Roles
//
// Exactly three roles exist: admin, teacher and student. Every role owns a namespace
// ("/admin", "/teacher", "/student") and the matching API namespace under "/api".
// A role's landing page is "/<role>/dashboard".
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O. The request gate asks
// [Registry.Required] for the role guarding a path and compares it with the role carried
// in the verified session token.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import authcore, jwt, or session.
//   - Accept registrations after [Registry.Freeze].
package permission
