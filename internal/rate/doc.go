// Package rate provides the fixed-window admission counter behind both the
// rate and the quota checks.
//
// # Window semantics
//
// Windows are aligned to the unix epoch, so every process computes the same
// window start for the same instant. A counter key is created by the first
// increment of its window with a TTL of one window length and is never
// deleted explicitly. Key layout:
//
//	<prefix>:<scope>:<subject digest>:<window start unix seconds>
//
// Scopes used by the engine:
//   - q: quota (long window)
//   - r: rate (short window)
//
// # What this package must NOT do
//
//   - Decide fail-open or fail-closed. Backend errors are returned wrapped in
//     ErrUnavailable and the admission flow applies the configured policy.
package rate
