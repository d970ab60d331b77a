// Package api implements the HTTP server of an HNode2 device daemon.
//
// This package provides:
//   - One route per (path, method) of every endpoint set registered with
//     the device, each served through the set's dispatcher
//   - Framework endpoints under /hnode2/device (info, config, endpoints)
//   - /health and Prometheus /metrics
//   - Middleware stack (request ID, logging, recovery, CORS, rate limit,
//     body size limit)
//   - TLS support for production deployments
//
// # Operation transport
//
// A matched route becomes an httpOperation handed to the dispatcher. The
// dispatcher decides status, headers and body; the transport only writes
// them. Chunked results flush their headers first so the body is sent with
// chunked transfer encoding. A dispatcher that returns without sending is
// answered with 500.
//
// # Routing
//
// Routes are taken from the endpoint tables when the server is created.
// Requests that match no route get 404; a known path with an undeclared
// method gets 405. Both use the structured Error body.
package api
