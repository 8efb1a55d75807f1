// Package metrics defines the relay's operational counters.
//
// Counters are created from an OpenTelemetry meter. Without an installed
// MeterProvider the global meter is a no-op, so recording is always safe.
package metrics
