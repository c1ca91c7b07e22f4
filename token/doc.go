// Package token performs local, non-authoritative checks on access tokens:
// structural well-formedness, payload decoding, and expiry.
//
// # Architecture boundaries
//
// Signatures are never verified here. The backend is the authority on token
// validity; the client only reads exp to decide when to refresh and whether a
// token is worth attaching to a request.
//
// # What this package must NOT do
//
//   - Panic or return an error the caller is forced to recover from.
//   - Perform I/O or hold state.
//   - Import authclient, session, or middleware.
package token
