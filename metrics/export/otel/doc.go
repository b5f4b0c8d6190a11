// Package otel provides OpenTelemetry bindings for engine counters and
// histograms.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine
// metric and an Int64ObservableGauge per histogram bucket. A single
// callback reads [riskgate.Engine.MetricsSnapshot] on each collection
// cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
