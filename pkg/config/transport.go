package config

import "strings"

// Lightweight helpers for branching on a descriptor's transport without a
// string switch at every call site.

// Transport identifies how a downstream server is reached.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportStdio     Transport = "stdio"
	TransportHTTP      Transport = "http"
	TransportSSE       Transport = "sse"
)

// UnmarshalText normalizes aliases such as "ws" or "streamable-http".
func (t *Transport) UnmarshalText(text []byte) error {
	*t = ParseTransport(string(text))
	return nil
}

// ParseTransport maps user-facing names onto the canonical transports.
// Unknown values are returned lower-cased so Validate can report them.
func ParseTransport(s string) Transport {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "ws", "wss", "websocket":
		return TransportWebSocket
	case "http", "https", "streamable", "streamable-http", "streamablehttp":
		return TransportHTTP
	case "sse":
		return TransportSSE
	case "stdio":
		return TransportStdio
	default:
		return Transport(v)
	}
}

// IsWebSocket reports whether s is served by the native WebSocket client.
func (s ServerDescriptor) IsWebSocket() bool { return s.Transport == TransportWebSocket }

// IsStdio reports whether s launches a local process.
func (s ServerDescriptor) IsStdio() bool { return s.Transport == TransportStdio }

// IsHTTP reports whether s uses the streamable HTTP or SSE transport.
func (s ServerDescriptor) IsHTTP() bool {
	return s.Transport == TransportHTTP || s.Transport == TransportSSE
}
