// Package session provides per-user session record persistence behind the [Store]
// interface, with an in-process [MemoryStore] and a Redis-backed [RedisStore].
//
// # Model
//
// A user owns zero or more [Record] values keyed by session id. Records move from active
// to inactive exactly once; an inactive record is removed from the store, so every record
// a store returns is active. Insert enforces a per-user cap by evicting the
// least-recently-active record other than the one being inserted.
//
// # Binary encoding
//
// [RedisStore] keeps records as a compact versioned binary blob (see [Encode]). Last
// activity is tracked separately in a sorted set and merged back on read.
//
// # Architecture boundaries
//
// This package owns storage and the cap/eviction rule. It does NOT interpret tokens,
// evaluate roles, or decide whether a request is authenticated; those responsibilities
// belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or permission (no upward imports).
//   - Perform I/O while holding a [MemoryStore] shard lock.
//   - Store plaintext secrets or raw tokens in [Record] fields.
package session
