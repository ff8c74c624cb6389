// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /get_patents_detailed, the legacy extraction contract.
//   - POST /v1/patents for extraction with explicit bounds and the run's events.
//   - GET /v1/sessions/{session_id} to read back a session's last results.
package api
