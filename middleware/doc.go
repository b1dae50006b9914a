// Package middleware adapts trustgate.Engine to net/http.
//
// [Guard] reads the API key header and the session cookie named in the engine
// config, calls Engine.Handle and translates the outcome:
//
//   - admitted: X-Quota-* and X-RateLimit-* headers, a rewritten cookie when
//     the refresh token rotated, the identity in the request context;
//   - 429 with Retry-After when a counter denies;
//   - 401 for invalid keys and missing, revoked or stolen sessions (the
//     cookie is cleared for the latter), including a session whose rotation
//     retries were exhausted;
//   - 409 when a concurrent request rotated the cookie first;
//   - 503 when the cache is unreachable.
//
// The package holds no state of its own and makes no decisions beyond the
// mapping above.
package middleware
