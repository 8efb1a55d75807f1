// Package telemetry groups the operational observability of the chat relay.
//
// Tracing is configured by internal/platform/otel. Relay health counters live
// in telemetry/metrics and are recorded on the OpenTelemetry metric API, so
// whichever meter provider the process installs collects them.
package telemetry
