// Package flows contains pure-function orchestrators for the session client's
// login, MFA verification, and token refresh.
//
// Each flow function (RunLogin, RunRefresh) accepts a typed dependency struct
// and returns a classified result without side effects beyond those
// dependencies. This keeps the Client thin and lets every reply shape be
// tested with stub exchanges.
//
// # Architecture boundaries
//
// Flow functions coordinate the HTTP exchange, token checks, and session
// updates. They do NOT own any of these resources; ownership stays with the
// Client.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authclient (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency funcs.
//   - Decide fault reactions (demotion, navigation, notices).
package flows
