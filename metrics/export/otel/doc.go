// Package otel exports goIdentity metrics as OpenTelemetry observable
// instruments.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and a
// bucket gauge with an "le" attribute for the redemption latency histogram.
// A single callback reads the engine snapshot on each collection. The caller
// owns the MeterProvider.
package otel
