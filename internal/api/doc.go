// Package api hosts the read-only status server. Routes:
//   - GET /healthz pings the frontier store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources/{source}/collections lists parents, filtered by ?state=.
//   - GET /v1/sources/{source}/collections/{key} returns one parent.
//   - GET /v1/sources/{source}/frontier reports item and record counts.
package api
