// Package server exposes the registry over HTTP: the /v1 JSON surface,
// the Prometheus metrics endpoint, and the WebSocket change feed. The
// handlers are thin adapters over the api handler surface: DTO
// validation, handler call, typed-error to status-code mapping. Every
// response carries an X-Request-ID header; error bodies are
// {code, message, request_id}.
package server
