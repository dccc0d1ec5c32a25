// Package server exposes a running application over HTTP.
//
// The router is built with gorilla/mux and serves:
//
//   - GET  /api/v1/application           application summary
//   - GET  /api/v1/services              every service with its replicas
//   - GET  /api/v1/services/{name}       one service, 404 when unknown
//   - POST /api/v1/services/{name}/restart
//   - GET  /api/v1/logs/{name}?tail=N    cached console lines
//   - GET  /api/v1/logs/{name}/stream    websocket, cached then live lines
//   - GET  /api/v1/events                websocket, replica state changes
//   - GET  /metrics                      Prometheus metrics
//   - /mcp                               streamable HTTP MCP endpoint
//
// JSON endpoints answer with a Response envelope. All endpoints read from an
// api.ApplicationHandler, so the server never touches orchestrator internals.
package server
