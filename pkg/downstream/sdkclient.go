package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-federation-go/pkg/config"
	"github.com/vikashloomba/mcp-federation-go/pkg/faults"
)

// SDKClient reaches stdio and streamable HTTP / SSE servers through the
// go-sdk client. Results are re-encoded so callers see the same Response
// shape as WebSocketClient.
type SDKClient struct {
	desc   config.ServerDescriptor
	opts   Options
	logger *slog.Logger
	health *healthTracker

	mu         sync.RWMutex
	client     *mcp.Client
	session    *mcp.ClientSession
	connecting bool
	connectCh  chan struct{}
	tracker    *sessionIDTracker

	onToolsChanged atomic.Pointer[hook]
}

// NewSDKClient creates a client for a stdio, http or sse descriptor.
func NewSDKClient(desc config.ServerDescriptor, opts *Options) *SDKClient {
	o := opts.withDefaults()
	return &SDKClient{
		desc:    desc,
		opts:    o,
		logger:  o.Logger.With("server", desc.ID),
		health:  newHealthTracker(),
		tracker: newSessionIDTracker(""),
	}
}

func (c *SDKClient) ID() string                          { return c.desc.ID }
func (c *SDKClient) Descriptor() config.ServerDescriptor { return c.desc }
func (c *SDKClient) Health() Health                      { return c.health.snapshot() }

func (c *SDKClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

func (c *SDKClient) OnToolListChanged(fn func()) {
	c.onToolsChanged.Store(&hook{fn: fn})
}

// Connect establishes the SDK session. The SDK performs the initialize
// handshake as part of connecting.
func (c *SDKClient) Connect(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.session != nil {
			c.mu.Unlock()
			return nil
		}
		if c.connecting {
			ch := c.connectCh
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
				continue
			}
		}
		c.connecting = true
		c.connectCh = make(chan struct{})
		c.mu.Unlock()

		c.health.setState(StateConnecting)
		session, client, err := c.establishSession(ctx)

		c.mu.Lock()
		c.connecting = false
		close(c.connectCh)
		if err != nil {
			c.mu.Unlock()
			c.health.failed(err.Error())
			c.logger.Warn("downstream connect failed", "transport", c.desc.Transport, "error", err)
			return faults.Connection(c.desc.ID, "connect", err)
		}
		c.session = session
		c.client = client
		c.mu.Unlock()

		c.health.connected(time.Now())
		c.logger.Info("connected to downstream server", "transport", c.desc.Transport)
		go c.monitorSession(session)
		return nil
	}
}

func (c *SDKClient) establishSession(ctx context.Context) (*mcp.ClientSession, *mcp.Client, error) {
	clientOpts := &mcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			c.onToolsChanged.Load().fire()
		},
	}
	attempt := func(ctx context.Context, transport mcp.Transport) (*mcp.ClientSession, *mcp.Client, error) {
		client := mcp.NewClient(c.opts.ClientInfo, clientOpts)
		wrapped := transport
		if c.opts.LogJSONRPC {
			wrapped = &loggingTransport{delegate: transport, logger: c.logger}
		}
		session, err := client.Connect(ctx, wrapped, nil)
		if err != nil {
			return nil, nil, err
		}
		return session, client, nil
	}

	connectCtx, cancel := withTimeout(ctx, c.desc.Timeout())
	defer cancel()

	switch {
	case c.desc.IsStdio():
		transport, err := buildStdioTransport(c.desc)
		if err != nil {
			return nil, nil, err
		}
		return attempt(connectCtx, transport)
	case c.desc.IsHTTP():
		return c.establishHTTPSession(connectCtx, attempt)
	default:
		return nil, nil, fmt.Errorf("downstream: transport %q is not served by the sdk client", c.desc.Transport)
	}
}

// establishHTTPSession tries streamable HTTP first and falls back to SSE,
// unless the descriptor asks for SSE directly.
func (c *SDKClient) establishHTTPSession(
	ctx context.Context,
	attempt func(context.Context, mcp.Transport) (*mcp.ClientSession, *mcp.Client, error),
) (*mcp.ClientSession, *mcp.Client, error) {
	target, err := resolveDialTarget(c.desc)
	if err != nil {
		return nil, nil, err
	}
	c.tracker.Reset("")
	httpClient := decorateHTTPClient(c.opts.HTTPClient, target.Header, c.tracker)

	var streamErr error
	if !shouldPreferSSE(c.desc) {
		transport := &mcp.StreamableClientTransport{
			Endpoint:   target.URL,
			HTTPClient: httpClient,
			MaxRetries: 1,
		}
		session, client, err := attempt(ctx, transport)
		if err == nil {
			c.tracker.Set(session.ID())
			return session, client, nil
		}
		streamErr = err
		c.logger.Debug("streamable http connect failed, trying sse", "error", err)
	}

	session, client, err := attempt(ctx, &mcp.SSEClientTransport{Endpoint: target.URL, HTTPClient: httpClient})
	if err != nil {
		if streamErr != nil {
			return nil, nil, fmt.Errorf("streamable error: %v; sse error: %w", streamErr, err)
		}
		return nil, nil, err
	}
	c.tracker.Set(session.ID())
	return session, client, nil
}

func buildStdioTransport(desc config.ServerDescriptor) (mcp.Transport, error) {
	if desc.Command == "" {
		return nil, fmt.Errorf("downstream: command missing for %q", desc.ID)
	}
	cmd := exec.Command(desc.Command, desc.Args...)
	if len(desc.Env) > 0 {
		env := os.Environ()
		for k, v := range desc.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func shouldPreferSSE(desc config.ServerDescriptor) bool {
	if desc.Transport == config.TransportSSE {
		return true
	}
	return strings.HasSuffix(strings.TrimSpace(desc.URL), "/sse")
}

func (c *SDKClient) monitorSession(session *mcp.ClientSession) {
	err := session.Wait()
	c.mu.Lock()
	current := c.session == session
	if current {
		c.session = nil
		c.client = nil
	}
	c.mu.Unlock()
	if !current {
		return
	}
	c.health.setState(StateDisconnected)
	if err != nil {
		c.logger.Warn("downstream session ended", "error", err)
	} else {
		c.logger.Info("downstream session closed")
	}
}

func (c *SDKClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.client = nil
	c.mu.Unlock()
	c.health.setState(StateDisconnected)
	if session == nil {
		return nil
	}
	done := make(chan struct{})
	var closeErr error
	go func() {
		closeErr = session.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return closeErr
	}
}

// Initialize checks liveness with a ping; the SDK already negotiated the
// protocol during Connect.
func (c *SDKClient) Initialize(ctx context.Context) (*Response, error) {
	return c.invoke(ctx, MethodInitialize, func(ctx context.Context, s *mcp.ClientSession) (any, error) {
		if err := s.Ping(ctx, &mcp.PingParams{}); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	})
}

func (c *SDKClient) ListTools(ctx context.Context) (*Response, error) {
	return c.invoke(ctx, MethodToolsList, func(ctx context.Context, s *mcp.ClientSession) (any, error) {
		return s.ListTools(ctx, &mcp.ListToolsParams{})
	})
}

func (c *SDKClient) CallTool(ctx context.Context, name string, args json.RawMessage) (*Response, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return c.invoke(ctx, MethodToolsCall, func(ctx context.Context, s *mcp.ClientSession) (any, error) {
		return s.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	})
}

func (c *SDKClient) ListResources(ctx context.Context) (*Response, error) {
	return c.invoke(ctx, MethodResourcesList, func(ctx context.Context, s *mcp.ClientSession) (any, error) {
		res, err := s.ListResources(ctx, &mcp.ListResourcesParams{})
		if err != nil && isMethodUnavailableError(err) {
			return &mcp.ListResourcesResult{}, nil
		}
		return res, err
	})
}

func (c *SDKClient) ReadResource(ctx context.Context, uri string) (*Response, error) {
	return c.invoke(ctx, MethodResourcesRead, func(ctx context.Context, s *mcp.ClientSession) (any, error) {
		return s.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	})
}

// invoke runs call against the live session under the descriptor's timeout
// and wraps the outcome as a Response.
func (c *SDKClient) invoke(ctx context.Context, method string, call func(context.Context, *mcp.ClientSession) (any, error)) (*Response, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return nil, faults.Connection(c.desc.ID, method, errNotConnected)
	}

	callCtx, cancel := withTimeout(ctx, c.desc.Timeout())
	defer cancel()

	start := time.Now()
	result, err := call(callCtx, session)
	c.health.messageSent()
	if err != nil {
		c.health.errorSeen()
		return nil, c.classify(ctx, callCtx, method, err)
	}
	c.health.observeLatency(time.Since(start))

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("downstream: encode %s result: %w", method, err)
	}
	return &Response{JSONRPC: jsonRPCVersion, Result: raw}, nil
}

func (c *SDKClient) classify(parent, callCtx context.Context, method string, err error) error {
	switch {
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return faults.Timeout(c.desc.ID, method, c.desc.Timeout())
	case c.IsConnected():
		// The session survived, so the server rejected the request.
		return faults.Protocol(c.desc.ID, 0, err.Error())
	default:
		return faults.Connection(c.desc.ID, method, err)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range []string{"method not found", "not implemented", "unsupported", "does not support", "unimplemented"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
