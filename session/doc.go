// Package session holds the client-side session: the observable [State] of
// who is logged in and the [Store] that persists it between runs.
//
// # Persistence
//
// Two records are kept per namespace: the serialized user (tokens included)
// under "current_user" and the preferred UI language under "language". The
// user record is a versioned JSON envelope, optionally sealed with a key
// derived by argon2id. [RecordStore] adapts any [Backend]: memory, a private
// directory, Redis, or SQLite.
//
// # Architecture boundaries
//
// This package owns the [User] model, its encoding, and the State lifecycle.
// It does NOT decode tokens, talk to the backend, or schedule refreshes.
//
// # What this package must NOT do
//
//   - Import authclient, middleware, or refresh (no upward imports).
//   - Let anything other than State write to a Store.
//   - Log tokens.
package session
