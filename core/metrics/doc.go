// Package metrics defines the cycle record published by the control loop and
// the sink interfaces that consume it. Sinks such as PromSink and InfluxSink
// live in infra/metrics and register themselves with RegisterMetricsSink;
// NewMetricsSink returns a MultiSink when several sinks are configured.
package metrics
