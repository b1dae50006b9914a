// Package prometheus exposes trustgate engine metrics through the Prometheus
// client library.
//
// [PrometheusExporter] is a prometheus.Collector: register it with any
// registry, or mount [PrometheusExporter.Handler], which serves it from a
// private one. Counter names are trustgate_*_total; the single histogram is
// trustgate_handle_latency_seconds.
package prometheus
