// Package server provides the optional HTTP status server.
//
// Routes:
//
//   - GET /: the embedded status page, when assets are given
//   - GET /api/latest: column header and the most recent row as JSON
//   - GET /api/sources: last sampling outcome per source as JSON
//   - GET /api/sse: Server-Sent Events stream of rows as they are emitted
//   - GET /metrics: Prometheus metrics, when a metrics handler is given
//   - GET /healthz: 200 once a row has been emitted, 503 before that
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
