package downstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-federation-go/pkg/config"
)

// Client is a connection to one downstream MCP server.
type Client interface {
	ID() string
	Descriptor() config.ServerDescriptor

	// Connect establishes the connection, returning early when it is
	// already up. Concurrent callers share a single attempt.
	Connect(ctx context.Context) error
	// Disconnect closes the connection; in-flight requests fail with a
	// connection-closed error.
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Health() Health

	Initialize(ctx context.Context) (*Response, error)
	ListTools(ctx context.Context) (*Response, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (*Response, error)
	ListResources(ctx context.Context) (*Response, error)
	ReadResource(ctx context.Context, uri string) (*Response, error)

	// OnToolListChanged registers fn to run, on its own goroutine, whenever
	// the server announces that its tool list changed.
	OnToolListChanged(fn func())
}

// Options tune client behaviour. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// ClientInfo is advertised during initialize.
	ClientInfo      *mcp.Implementation
	ProtocolVersion string

	// ConnectWindow bounds how long Connect waits for the connection to
	// come up.
	ConnectWindow time.Duration
	// ConnectPollInterval is how often Connect re-checks connection state.
	ConnectPollInterval time.Duration
	HeartbeatInterval   time.Duration
	// SweepInterval is how often timed-out requests are failed.
	SweepInterval time.Duration

	Dialer     *websocket.Dialer
	HTTPClient *http.Client
	// LogJSONRPC logs every frame exchanged with SDK-backed servers at debug
	// level.
	LogJSONRPC bool
}

const (
	defaultConnectWindow       = 3 * time.Second
	defaultConnectPollInterval = 100 * time.Millisecond
	defaultHeartbeatInterval   = 30 * time.Second
	defaultSweepInterval       = time.Second
)

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.ClientInfo == nil {
		out.ClientInfo = &mcp.Implementation{Name: "mcp-federation-gateway", Version: "0.1.0"}
	}
	if out.ProtocolVersion == "" {
		out.ProtocolVersion = DefaultProtocolVersion
	}
	if out.ConnectWindow <= 0 {
		out.ConnectWindow = defaultConnectWindow
	}
	if out.ConnectPollInterval <= 0 {
		out.ConnectPollInterval = defaultConnectPollInterval
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = defaultHeartbeatInterval
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = defaultSweepInterval
	}
	if out.Dialer == nil {
		out.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: out.ConnectWindow,
		}
	}
	return out
}

// New returns the client implementation matching desc's transport.
func New(desc config.ServerDescriptor, opts *Options) (Client, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	switch {
	case desc.IsWebSocket():
		return NewWebSocketClient(desc, opts), nil
	case desc.IsStdio(), desc.IsHTTP():
		return NewSDKClient(desc, opts), nil
	default:
		return nil, fmt.Errorf("downstream: unsupported transport %q for %s", desc.Transport, desc.ID)
	}
}

// hook holds the tool-list-changed callback shared by the implementations.
type hook struct {
	fn func()
}

func (h *hook) fire() {
	if h == nil || h.fn == nil {
		return
	}
	go h.fn()
}
