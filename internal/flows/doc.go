// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunStartSession, RunAuthenticate, RunAdmission, etc.)
// accepts a typed dependency struct and returns a result carrying a failure
// kind instead of a public error. The root engine maps kinds to its sentinel
// errors and owns logging, metrics and audit.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the session store, the admission counter
// and the API key store. They do NOT own any of these resources. Ownership
// stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import trustgate (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
package flows
