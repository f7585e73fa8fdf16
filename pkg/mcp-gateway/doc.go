// Package mcpgateway exposes a federation.Manager as a single Streamable MCP
// server. Every tool in the federation registry is mirrored onto the server as
// it is added, updated or removed; tool calls are validated against the
// registered input schema and routed through the manager, which picks the
// backend, applies its circuit breaker and retries. Downstream resources are
// exposed under namespaced URIs and read through the owning backend.
//
// Alongside the MCP endpoint the gateway serves operator routes: /healthz,
// /backends, /catalog and a Prometheus /metrics endpoint.
package mcpgateway
