// Package middleware is the outgoing HTTP pipeline of the session client: an
// ordered list of stages wrapped around a [Doer].
//
// # Stages
//
//   - [RequestID]: sets X-Request-ID when absent.
//   - [Trace]: one OpenTelemetry client span per request.
//   - [Observe]: latency and status callback.
//   - [HandleFaults]: turns non-2xx replies and transport failures into
//     [*APIError] / [*NetworkError], lets a [FaultReactor] apply global side
//     effects, then returns the error to the caller.
//   - [Authorize]: attaches "Authorization: Bearer <token>" to API requests
//     that are not allowlisted, when the current token is well-formed and
//     unexpired.
//
// [Chain] applies stages outermost first.
//
// # Architecture boundaries
//
// This package classifies requests and responses. It does NOT hold session
// state, decide what a fault means for the session, or refuse requests
// locally: a missing or stale token is sent without a header and the server
// answers.
//
// # What this package must NOT do
//
//   - Import authclient or session.
//   - Modify the caller's *http.Request (stages clone before mutating).
//   - Log or expose token values.
package middleware
