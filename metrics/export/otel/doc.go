// Package otel binds trustgate engine metrics to an OpenTelemetry Meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter and,
// for the Handle latency histogram, a bucket gauge labelled by "le" plus a
// sample count. Callers own the MeterProvider.
package otel
