package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-federation-go/pkg/config"
	"github.com/vikashloomba/mcp-federation-go/pkg/faults"
)

const (
	writeWait        = 5 * time.Second
	outboundBuffer   = 64
	maxInboundFrame  = 16 << 20
	closeGracePeriod = time.Second
)

var errNotConnected = errors.New("not connected")

// WebSocketClient is a JSON-RPC 2.0 client for a downstream server reachable
// over a single WebSocket.
type WebSocketClient struct {
	desc   config.ServerDescriptor
	opts   Options
	logger *slog.Logger
	health *healthTracker

	mu         sync.Mutex
	sess       *wsSession
	connecting chan struct{}
	connectErr error

	onToolsChanged atomic.Pointer[hook]
}

// wsSession is the state of one physical connection. A reconnect always
// builds a fresh session so stale goroutines can't touch the new one.
type wsSession struct {
	ctx      context.Context
	cancel   context.CancelFunc
	outbound chan []byte
	pending  *pendingTable
	done     chan struct{}

	connected atomic.Bool
	// err is written before done is closed.
	err error
}

func newWSSession() *wsSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsSession{
		ctx:      ctx,
		cancel:   cancel,
		outbound: make(chan []byte, outboundBuffer),
		pending:  newPendingTable(),
		done:     make(chan struct{}),
	}
}

// NewWebSocketClient creates a client for desc. No connection is made until
// Connect.
func NewWebSocketClient(desc config.ServerDescriptor, opts *Options) *WebSocketClient {
	o := opts.withDefaults()
	return &WebSocketClient{
		desc:   desc,
		opts:   o,
		logger: o.Logger.With("server", desc.ID),
		health: newHealthTracker(),
	}
}

func (c *WebSocketClient) ID() string                          { return c.desc.ID }
func (c *WebSocketClient) Descriptor() config.ServerDescriptor { return c.desc }
func (c *WebSocketClient) Health() Health                      { return c.health.snapshot() }

func (c *WebSocketClient) IsConnected() bool {
	return c.activeSession() != nil
}

func (c *WebSocketClient) OnToolListChanged(fn func()) {
	c.onToolsChanged.Store(&hook{fn: fn})
}

// Connect starts the connection task and waits, polling connection state,
// until it is up, it fails, or the connect window elapses.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.sess != nil && c.sess.connected.Load() {
			c.mu.Unlock()
			return nil
		}
		if ch := c.connecting; ch != nil {
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
			}
			c.mu.Lock()
			err := c.connectErr
			c.mu.Unlock()
			if err != nil {
				return err
			}
			continue
		}

		ch := make(chan struct{})
		c.connecting = ch
		stale := c.sess
		sess := newWSSession()
		c.sess = sess
		c.mu.Unlock()

		if stale != nil {
			stale.cancel()
		}
		c.health.setState(StateConnecting)
		c.logger.Info("connecting to downstream server", "url", c.desc.URL)
		go c.run(sess)

		err := c.awaitConnected(ctx, sess)

		c.mu.Lock()
		c.connecting = nil
		c.connectErr = err
		if err != nil && c.sess == sess {
			c.sess = nil
		}
		close(ch)
		c.mu.Unlock()

		if err != nil {
			sess.cancel()
			if c.health.state() != StateError {
				c.health.failed(err.Error())
			}
		}
		return err
	}
}

func (c *WebSocketClient) awaitConnected(ctx context.Context, sess *wsSession) error {
	window := time.NewTimer(c.opts.ConnectWindow)
	defer window.Stop()
	poll := time.NewTicker(c.opts.ConnectPollInterval)
	defer poll.Stop()

	for {
		if sess.connected.Load() {
			return nil
		}
		select {
		case <-sess.done:
			cause := sess.err
			if cause == nil {
				cause = errors.New("connection closed during handshake")
			}
			return faults.Connection(c.desc.ID, "connect", cause)
		case <-window.C:
			return faults.Connection(c.desc.ID, "connect", fmt.Errorf("not connected within %s", c.opts.ConnectWindow))
		case <-ctx.Done():
			return faults.Connection(c.desc.ID, "connect", ctx.Err())
		case <-poll.C:
		}
	}
}

// Disconnect closes the active connection and waits for its goroutines to
// finish or ctx to expire.
func (c *WebSocketClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess == nil {
		c.health.setState(StateDisconnected)
		return nil
	}
	c.logger.Info("disconnecting from downstream server")
	sess.cancel()
	select {
	case <-sess.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.health.setState(StateDisconnected)
	return nil
}

func (c *WebSocketClient) Initialize(ctx context.Context) (*Response, error) {
	return c.sendRequest(ctx, MethodInitialize, &mcp.InitializeParams{
		ProtocolVersion: c.opts.ProtocolVersion,
		Capabilities:    &mcp.ClientCapabilities{},
		ClientInfo:      c.opts.ClientInfo,
	})
}

func (c *WebSocketClient) ListTools(ctx context.Context) (*Response, error) {
	return c.sendRequest(ctx, MethodToolsList, &mcp.ListToolsParams{})
}

func (c *WebSocketClient) CallTool(ctx context.Context, name string, args json.RawMessage) (*Response, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return c.sendRequest(ctx, MethodToolsCall, &mcp.CallToolParams{Name: name, Arguments: args})
}

func (c *WebSocketClient) ListResources(ctx context.Context) (*Response, error) {
	return c.sendRequest(ctx, MethodResourcesList, &mcp.ListResourcesParams{})
}

func (c *WebSocketClient) ReadResource(ctx context.Context, uri string) (*Response, error) {
	return c.sendRequest(ctx, MethodResourcesRead, &mcp.ReadResourceParams{URI: uri})
}

func (c *WebSocketClient) activeSession() *wsSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || !c.sess.connected.Load() {
		return nil
	}
	return c.sess
}

// sendRequest registers a pending entry, queues the frame and waits for
// exactly one outcome.
func (c *WebSocketClient) sendRequest(ctx context.Context, method string, params any) (*Response, error) {
	sess := c.activeSession()
	if sess == nil {
		return nil, faults.Connection(c.desc.ID, method, errNotConnected)
	}

	id := uuid.NewString()
	frame, err := json.Marshal(Request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("downstream: encode %s: %w", method, err)
	}

	p := newPendingRequest(id, method, c.desc.Timeout(), time.Now())
	if !sess.pending.add(p) {
		return nil, faults.ConnectionClosed(c.desc.ID)
	}

	select {
	case sess.outbound <- frame:
	case <-sess.done:
		// teardown already failed every registered entry
	case <-ctx.Done():
		if _, ok := sess.pending.take(id); ok {
			p.complete(outcome{err: ctx.Err()})
		}
	}

	select {
	case o := <-p.done:
		return o.resp, o.err
	case <-ctx.Done():
		if _, ok := sess.pending.take(id); ok {
			p.complete(outcome{err: ctx.Err()})
		}
		o := <-p.done
		return o.resp, o.err
	}
}

// run owns the connection for the lifetime of sess.
func (c *WebSocketClient) run(sess *wsSession) {
	defer close(sess.done)

	conn, err := c.dial(sess.ctx)
	if err != nil {
		sess.err = err
		sess.pending.closeAll()
		if c.isCurrent(sess) {
			c.health.failed(err.Error())
		}
		c.logger.Warn("downstream dial failed", "url", c.desc.URL, "error", err)
		return
	}
	conn.SetReadLimit(maxInboundFrame)

	sess.connected.Store(true)
	if c.isCurrent(sess) {
		c.health.connected(time.Now())
	}
	c.logger.Info("connected to downstream server", "url", c.desc.URL)

	err = c.serve(sess, conn)
	sess.connected.Store(false)
	sess.cancel()
	_ = conn.Close()
	sess.err = err

	if c.isCurrent(sess) {
		c.health.setState(StateDisconnected)
	}
	for _, p := range sess.pending.closeAll() {
		p.complete(outcome{err: faults.ConnectionClosed(c.desc.ID)})
	}
	if err != nil {
		c.logger.Warn("downstream connection lost", "error", err)
	} else {
		c.logger.Info("downstream connection closed")
	}
}

func (c *WebSocketClient) isCurrent(sess *wsSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == sess
}

func (c *WebSocketClient) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := resolveDialTarget(c.desc)
	if err != nil {
		return nil, err
	}
	dialer := *c.opts.Dialer
	if len(target.Subprotocols) > 0 {
		dialer.Subprotocols = target.Subprotocols
	}
	conn, resp, err := dialer.DialContext(ctx, target.URL, target.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// serve is the single writer: queued frames go out in order, heartbeats and
// the timeout sweep share the same loop. It returns when the reader fails,
// a write fails, or the session is cancelled.
func (c *WebSocketClient) serve(sess *wsSession, conn *websocket.Conn) error {
	conn.SetPingHandler(func(data string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(sess, conn) }()

	heartbeat := time.NewTicker(c.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(c.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case frame := <-sess.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.health.errorSeen()
				return fmt.Errorf("write frame: %w", err)
			}
			c.health.messageSent()
		case now := <-heartbeat.C:
			// Pongs are not tracked; a dead peer surfaces as a read or
			// write error.
			if err := conn.WriteControl(websocket.PingMessage, nil, now.Add(writeWait)); err != nil {
				c.health.errorSeen()
				return fmt.Errorf("heartbeat: %w", err)
			}
			c.health.heartbeat(now)
		case now := <-sweep.C:
			c.sweep(sess, now)
		case err := <-readErr:
			if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.health.errorSeen()
				return err
			}
			return nil
		case <-sess.ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			select {
			case <-readErr:
			case <-time.After(closeGracePeriod):
			}
			return nil
		}
	}
}

// sweep fails every pending request whose timeout has elapsed.
func (c *WebSocketClient) sweep(sess *wsSession, now time.Time) {
	for _, p := range sess.pending.expire(now) {
		if p.complete(outcome{err: faults.Timeout(c.desc.ID, p.method, p.timeout)}) {
			c.logger.Warn("downstream request timed out", "method", p.method, "id", p.id, "timeout", p.timeout)
		}
	}
}

func (c *WebSocketClient) readLoop(sess *wsSession, conn *websocket.Conn) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.handleFrame(sess, data)
	}
}

func (c *WebSocketClient) handleFrame(sess *wsSession, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.health.errorSeen()
		c.logger.Warn("discarding malformed frame", "error", err)
		return
	}
	if frame.Method != "" {
		c.handleServerMessage(sess, &frame)
		return
	}

	id, ok := correlationID(frame.ID)
	if !ok {
		c.health.errorSeen()
		c.logger.Warn("discarding response without usable id")
		return
	}
	p, found := sess.pending.take(id)
	if !found {
		c.health.errorSeen()
		c.logger.Debug("discarding unmatched response", "id", id)
		return
	}
	c.health.observeLatency(time.Since(p.sentAt))
	p.complete(outcome{resp: &Response{
		JSONRPC: frame.JSONRPC,
		ID:      id,
		Result:  frame.Result,
		Error:   frame.Error,
	}})
}

// handleServerMessage deals with notifications and requests initiated by the
// downstream server.
func (c *WebSocketClient) handleServerMessage(sess *wsSession, frame *inboundFrame) {
	if !frame.hasID() {
		if frame.Method == notificationToolListChanged {
			c.logger.Debug("downstream tool list changed")
			c.onToolsChanged.Load().fire()
		}
		return
	}

	reply := serverReply{JSONRPC: jsonRPCVersion, ID: frame.ID}
	if frame.Method == methodPing {
		reply.Result = struct{}{}
	} else {
		reply.Error = &RPCError{Code: codeMethodNotFound, Message: "method not found: " + frame.Method}
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		c.logger.Warn("encode reply", "method", frame.Method, "error", err)
		return
	}
	select {
	case sess.outbound <- payload:
	case <-sess.ctx.Done():
	}
}
