// Package metrics defines the sinks that record pump telemetry. A sink
// implements MetricsSink and any of the optional recorder interfaces for
// the events it understands. Sinks are built from configuration through the
// factory registry; several configured sinks are combined in a MultiSink.
package metrics
