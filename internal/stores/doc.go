// Package stores provides cache-backed stores for API key state.
//
// # Design
//
// [APIKeyStore] persists a versioned, binary-encoded record per key hash and
// one context record per issuer naming the active key. Issue and courtesy
// rotation swap the context record with compare-and-swap (the first issue
// creates it with SetIfAbsent) and delete the key they minted when the swap
// is lost. Rotations of the same key inside one process are collapsed with
// singleflight. Plaintext keys are never stored, only their SHA-256 digests.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for key records. It
// does NOT count requests or decide admission; those responsibilities belong
// to internal/rate and the flow functions in internal/flows.
//
// # What this package must NOT do
//
//   - Import trustgate or any sibling internal package.
//   - Log or expose plaintext keys.
package stores
