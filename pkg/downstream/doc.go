// Package downstream holds the per-server clients the federation layer uses to
// talk to downstream MCP servers.
//
// # Core entry points
//
//   - Client is the RPC surface shared by every transport: Connect /
//     Disconnect, Initialize, ListTools, CallTool, ListResources and
//     ReadResource, plus Health for observability.
//   - WebSocketClient speaks JSON-RPC 2.0 over a single WebSocket. One
//     goroutine owns the socket: it writes queued frames in submission order,
//     answers pings, sends heartbeats and sweeps timed-out requests, while a
//     reader goroutine correlates responses to pending requests by id.
//   - SDKClient reaches stdio and streamable HTTP / SSE servers through the
//     modelcontextprotocol/go-sdk client.
//   - New picks the implementation from the descriptor's transport.
//
// Every request resolves exactly once: with the matching response, with a
// timeout from the periodic sweep, with the caller's context error, or with a
// connection-closed error when the connection ends.
package downstream
