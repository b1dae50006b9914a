// Package security derives the security posture report of an engine
// configuration: session clocks, theft detection depth, cookie flags and
// the failure policy of each admission counter.
//
// # What this package must NOT do
//
//   - Read or write the cache; the report is computed from configuration only.
package security
