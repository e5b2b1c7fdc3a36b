// Package api hosts the HTTP server, middleware, and REST handlers for the
// outreach back-office. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/outreach/send to run one send through the orchestrator.
//   - GET /v1/outreach/quota for today's per-source or global quota.
//   - POST /v1/outreach/records/{id}/replied|converted for lifecycle updates.
//   - POST /v1/outreach/settings/reload to re-read backend settings.
//   - GET /v1/phone/normalize as a normalization/validation probe.
package api
