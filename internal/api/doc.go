// Package api exposes the HTTP trigger for pipeline runs. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs/{variant} runs a pipeline synchronously and returns its result.
//   - GET /v1/runs lists recorded runs when a run ledger is configured.
//   - GET /v1/datasets/{variant} returns the persisted dataset.
package api
