// Package audit implements async event dispatching for security-relevant operations.
//
// # Components
//
//   - [Sink]: consumer interface, with channel, JSON writer, slog and no-op implementations.
//   - [Dispatcher]: buffered relay to a sink; drops or blocks when full, survives sink panics.
//   - [Event]: one audit record.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authcore or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
