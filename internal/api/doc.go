// Package api hosts the worker's status server. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/units/{unit_id} for the completion, lock and checkpoint state of a unit.
//   - GET /v1/units/{unit_id}/history for ledger rows, when a ledger is configured.
package api
