// Package authclient is the session and authorization front of the
// crime-reporting web client. It keeps the signed-in user and the token pair,
// refreshes the access token shortly before it expires, and sends API
// requests through a pipeline that attaches the bearer token and reacts to
// failed replies in one place.
//
// # Pieces
//
//   - [session.State] holds the user and tokens, persists them through a
//     [session.Store], and notifies subscribers of every change.
//   - [refresh.Scheduler] runs one pending refresh, armed LeadTime before
//     the access token's exp claim.
//   - The pipeline built by [Builder.Build] authorizes outgoing requests,
//     tags them with a request ID and turns 401/403/404/5xx and transport
//     failures into notices, navigation and session invalidation.
//   - [LoginFlow] drives the credentials then verification code sequence.
//
// A [Client] is safe for concurrent use. Build performs no I/O; call
// [Client.Restore] to pick up a persisted session. The authclient command
// in cmd/authclient drives the same Client from a terminal.
//
// # What this package must NOT do
//
//   - Retry refreshes. A failed refresh demotes the session at once.
//   - Attach tokens to requests outside the configured API base or to the
//     public auth endpoints.
//   - Import any sub-package that re-imports authclient.
package authclient
