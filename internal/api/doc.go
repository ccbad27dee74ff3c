// Package api hosts the HTTP server, middleware, and REST handlers that put
// the cache behind a network interface. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/entry fetches through the cache; /v1/lookup never touches the network.
//   - GET /v1/blob serves the stored artifact and /v1/entries lists everything.
package api
