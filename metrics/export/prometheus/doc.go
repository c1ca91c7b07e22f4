// Package prometheus publishes authclient metrics through client_golang.
//
// [PrometheusExporter] is a [prometheus.Collector] that reads
// [authclient.Client.MetricsSnapshot] on every scrape. Counter names are
// authclient_*_total; the single histogram is
// authclient_request_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the
//     collector or mount Handler.
//   - Mutate client state.
package prometheus
