// Package audit implements async event dispatching for session lifecycle events
// (login, MFA, refresh, invalidation, logout, profile changes).
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured audit record with timestamp, type, user, role, server, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; that belongs to the Client.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authclient or any sibling internal package.
//   - Carry token values in events.
package audit
