// Package telemetry provides storage.Observer implementations: OpenTelemetry
// spans, zap timing logs and a fan-out that combines them.
package telemetry
