// Package otel binds authclient metrics to an OpenTelemetry Meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per client counter,
// one cumulative bucket gauge per histogram keyed by an "le" attribute and
// the session gauges authclient_session_logged_in, authclient_refresh_pending
// and authclient_session_generation. Dropped audit events carry an
// "event_type" attribute. One callback reads the client on each collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate client state.
package otel
