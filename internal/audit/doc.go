// Package audit implements async event dispatching for session and admission
// security events.
//
// # Components
//
//   - [Sink] is the interface for event consumers (channel, JSON writer, zerolog, no-op).
//   - [Dispatcher] is a buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event] is the structured audit record: id, timestamp, type, account, session, series, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit. That belongs to the Engine.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import trustgate or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
