// Package api hosts the HTTP server, middleware, and REST handlers for the
// price tracker. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/users/{user_id}/... for search, tracking and watchlists.
//   - /v1/items/{item_id}/... for targets, scrapes, comparisons and history.
//   - POST /v1/runs to start a batch outside the daily schedule.
package api
