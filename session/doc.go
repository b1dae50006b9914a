// Package session provides the series record, its binary encoding and the
// Store capability the session state machine persists through.
//
// # Record
//
// One [Record] per series holds the session (id, account, sliding and absolute
// deadlines) together with its refresh pair (current refresh hash, its
// deadline) and a bounded history of superseded refresh hashes. Keeping both
// under one key lets extension and rotation be a single compare-and-swap.
//
// # Binary encoding
//
// Records are encoded with a leading version byte, length-prefixed strings and
// big-endian integers. Encoding is deterministic so the encoded bytes can be
// used as the compare-and-swap witness.
//
// # What this package must NOT do
//
//   - Decide theft, rotation or expiry policy. That belongs to internal/flows.
//   - Store plaintext refresh tokens.
package session
