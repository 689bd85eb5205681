// Package server exposes the service's network surfaces: the WebSocket
// ingest endpoint that carries peer audio and transcript broadcasts, and the
// HTTP API for health, monitoring, and Prometheus metrics.
package server
