// Package server exposes conversation sessions over HTTP.
//
// Routes:
//
//	GET    /health
//	GET    /metrics
//	POST   /api/sessions
//	GET    /api/sessions/{id}
//	DELETE /api/sessions/{id}
//	PUT    /api/sessions/{id}/provider
//	POST   /api/sessions/{id}/messages
//	GET    /api/sessions/{id}/stream   (WebSocket of session snapshots)
package server
