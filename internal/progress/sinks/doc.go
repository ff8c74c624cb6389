// Package sinks implements concrete progress consumers: structured logging
// and Prometheus metrics. Each sink satisfies progress.Sink and is safe for
// repeated Consume/Close cycles.
package sinks
