// Package rediscache implements cache.Cache on Redis.
//
// CompareAndSwap and Increment are single Lua scripts so they stay atomic
// across every process sharing the instance. Increment sets the expiry only
// when the counter is created, which gives fixed-window semantics.
//
// NewClient builds a go-redis universal client from ClientConfig with optional
// OpenTelemetry instrumentation (redisotel) and slow-command logging.
package rediscache
