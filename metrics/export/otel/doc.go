// Package otel publishes authcore Engine metrics through an OpenTelemetry
// Meter.
//
// [NewOTelExporter] registers one observable counter per Engine counter and
// one observable gauge per latency bucket. A single callback reads
// [authcore.Engine.MetricsSnapshot] on every collection.
//
// The caller owns the MeterProvider.
package otel
