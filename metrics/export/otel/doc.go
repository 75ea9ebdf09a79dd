// Package otel exposes neoauth engine metrics through OpenTelemetry observable
// instruments. Callers own the MeterProvider and pass a Meter in; a single
// callback reads the engine snapshot on each collection.
package otel
