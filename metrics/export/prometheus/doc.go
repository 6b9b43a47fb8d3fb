// Package prometheus renders authcore Engine metrics in the Prometheus text
// exposition format.
//
// Counters are named authcore_*_total. The one histogram is
// authcore_validate_latency_seconds. Nothing is registered globally; mount
// [PrometheusExporter.Handler] where it is needed.
package prometheus
