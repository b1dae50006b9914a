// Package trustgate is the request-boundary trust layer of a multi-tenant API:
// it authenticates every request against a rotating session, detects and
// contains refresh token theft, and enforces per-key quota and rate limits
// before a request reaches business logic.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build]. The engine keeps
// no request state in process; series writes are compare-and-swap operations on the cache
// and counters are atomic increments, so any number of replicas can share one Redis.
//
// # Architecture boundaries
//
// trustgate is the public surface. It exposes [Engine], [Builder], [Config], and value types
// ([Identity], [Session], [SessionGrant], [Rejection]). Flow orchestration, the window
// counter, the API key store and audit dispatch live under internal/ and are never exported.
// The cache port lives in package cache so callers can provide their own backend.
//
// # Request pipeline
//
// [Engine.Handle] runs admission first (quota, then rate) and only then authenticates the
// session cookie. A request rejected by admission performs no session work; a request
// admitted but failing authentication keeps its counters consumed.
//
// # What this package must NOT do
//
//   - Authorize business actions; [Identity] only says who is calling.
//   - Store plaintext refresh tokens or API keys; only SHA-256 digests are persisted.
//   - Import any sub-package that re-imports trustgate (no import cycles).
package trustgate
