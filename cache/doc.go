// Package cache defines the key-value port that session, counter and API key
// state is stored behind.
//
// # Operations
//
//   - Get / Set: plain reads and writes with optional TTL.
//   - SetIfAbsent: create-only write. The first API key of an issuer creates
//     its context record with it.
//   - CompareAndSwap: atomic replace keyed on the exact current bytes. Session
//     rotation and API key rotation rely on this to pick a single winner.
//   - Increment: atomic counter with TTL applied on creation. Fixed-window
//     admission counters rely on this.
//   - Delete: revocation.
//
// # Adapters
//
//   - cache/rediscache: production adapter over go-redis using Lua scripts.
//   - cache/memory: in-process double for tests and single-node tooling.
//
// # What this package must NOT do
//
//   - Hold process-wide singletons. Adapters are constructed and passed explicitly.
//   - Interpret values. Encoding belongs to the owning component.
package cache
