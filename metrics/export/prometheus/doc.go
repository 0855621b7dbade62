// Package prometheus renders engine metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [portalauth.Engine] and exposes an
// [net/http.Handler] for mounting at /metrics. Counter names are prefixed
// portalauth_*_total; the single histogram is
// portalauth_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry.
//   - Mutate engine state.
package prometheus
