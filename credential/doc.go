// Package credential provides the identifier and secret types that cross the
// request boundary, plus their minting, hashing and cookie encoding.
//
// # Types
//
//   - [SessionID]: ULID per login.
//   - [Series]: UUIDv4 per refresh-token lineage.
//   - [RefreshToken]: 32 random bytes, base64url. Persisted only as a [Digest].
//   - [APIKey]: "tg_" prefixed random key. Persisted only as a [Digest].
//   - [Expiration]: absolute deadline helpers.
//
// The types are distinct so a series cannot be passed where a session id is
// expected without an explicit conversion.
//
// # Cookie
//
// [CookieCodec] signs the (session id, series, refresh token) triple as an
// HS256 token keyed by an HKDF-derived key. Decoding rejects any other
// algorithm and wraps every failure in [ErrCookieInvalid].
package credential
