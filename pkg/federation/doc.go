// Package federation aggregates the tools of many downstream MCP servers into
// one registry and routes calls back to them.
//
// A Manager owns one downstream.Client per configured server. SyncAll fetches
// every backend's tools/list concurrently, skips unchanged catalogs through a
// ToolCache and replaces each backend's registry entries on change. Each
// backend has its own Breaker: consecutive failures open it for a jittered
// exponential cooldown, during which syncs and forwarded calls fail fast
// with a circuit-open error.
//
// RouteToolCall supports three modes. Execute forwards the call (or runs a
// local tool), plan returns an ExecutionPlan without any I/O, and hybrid
// returns both.
package federation
