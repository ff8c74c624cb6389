// Package progress defines the diagnostic events an extraction run emits and
// the plumbing that carries them: the Emitter interface the engine writes to,
// an ordered in-memory Recorder the caller can read back, and a non-blocking
// Hub that batches events on a background goroutine and fans them out to
// pluggable sinks such as structured logs or Prometheus.
package progress
