package mcpgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vikashloomba/mcp-federation-go/pkg/faults"
	"github.com/vikashloomba/mcp-federation-go/pkg/federation"
	"github.com/vikashloomba/mcp-federation-go/pkg/registry"
)

const mirrorBuffer = 256

// Gateway exposes a Streamable MCP server that fronts every tool in a
// federation registry under a single HTTP endpoint.
type Gateway struct {
	manager  *federation.Manager
	registry *registry.Registry
	opts     Options

	mirror *mirrorIndex
	sub    *registry.Subscription

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler
	metrics       *prometheus.Registry

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server

	stop       chan struct{}
	stopOnce   sync.Once
	mirrorDone chan struct{}
}

// NewGateway builds a Gateway, mirrors the current registry onto the MCP
// server and keeps it in sync until Close.
func NewGateway(mgr *federation.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()

	g := &Gateway{
		manager:    mgr,
		registry:   mgr.Registry(),
		opts:       options,
		mirror:     newMirrorIndex(),
		mux:        http.NewServeMux(),
		metrics:    prometheus.NewRegistry(),
		stop:       make(chan struct{}),
		mirrorDone: make(chan struct{}),
	}
	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasResources: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)

	if err := g.metrics.Register(federation.NewCollector(mgr)); err != nil {
		return nil, fmt.Errorf("mcpgateway: register collector: %w", err)
	}
	g.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	g.httpHandler = g.mountHandler()

	// Subscribe before the first sync so no change slips between them.
	g.sub = g.registry.Subscribe(mirrorBuffer)
	g.SyncTools()
	go g.mirrorLoop()

	if err := g.SyncResources(context.Background()); err != nil {
		g.logError("sync resources", err)
	}
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint and
// the operator routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ServeMux returns the mux behind Handler so callers can add routes.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Server returns the underlying MCP server.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// Options returns the effective options.
func (g *Gateway) Options() Options {
	return g.opts
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// Close stops mirroring registry changes. It does not stop the HTTP server
// or the manager.
func (g *Gateway) Close() {
	g.stopOnce.Do(func() {
		close(g.stop)
		g.sub.Close()
	})
	<-g.mirrorDone
}

func (g *Gateway) mirrorLoop() {
	defer close(g.mirrorDone)
	for {
		select {
		case <-g.stop:
			return
		case ev, ok := <-g.sub.C:
			if !ok {
				return
			}
			resync := ev.Kind == registry.SourceRemoved
			for drained := false; !drained; {
				select {
				case next, ok := <-g.sub.C:
					if !ok {
						return
					}
					resync = resync || next.Kind == registry.SourceRemoved
				default:
					drained = true
				}
			}
			g.SyncTools()
			// A replaced backend catalog usually means its resources moved too.
			if resync {
				if err := g.SyncResources(context.Background()); err != nil {
					g.logError("sync resources", err)
				}
			}
		}
	}
}

// SyncTools reconciles the MCP server's tool list with the registry.
func (g *Gateway) SyncTools() {
	specs := g.registry.All()
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	removed, changed := g.mirror.updateTools(specs)
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, spec := range changed {
		g.server.AddTool(exposedTool(spec), g.makeToolHandler(spec.Name))
	}
	if len(removed) > 0 || len(changed) > 0 {
		g.opts.Logger.Debug("mirrored registry", "added_or_updated", len(changed), "removed", len(removed))
	}
}

// SyncResources refreshes the resources exposed from every backend.
// Resources of backends that failed to list are withdrawn.
func (g *Gateway) SyncResources(ctx context.Context) error {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	resources, err := g.manager.ListResources(ctx)

	g.serverMu.Lock()
	removed, added := g.mirror.updateResources(resources)
	if len(removed) > 0 {
		g.server.RemoveResources(removed...)
	}
	for _, r := range added {
		g.server.AddResource(r, g.readResource)
	}
	g.serverMu.Unlock()
	return err
}

func (g *Gateway) makeToolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var (
			args json.RawMessage
			meta map[string]any
		)
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
			meta = req.Params.Meta
		}
		mode, err := federation.ParseMode(metaString(meta, metaKeyExecutionMode))
		if err != nil {
			return toolError(err), nil
		}
		if problems := g.registry.ValidateArguments(name, args); len(problems) > 0 {
			return toolError(faults.Validation(name, problems)), nil
		}
		res, err := g.manager.RouteToolCall(ctx, name, args, mode)
		if err != nil {
			g.opts.Logger.Warn("tool call failed", "tool", name, "mode", mode, "error", err)
			return toolError(err), nil
		}
		return toCallToolResult(res)
	}
}

func (g *Gateway) readResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if req == nil || req.Params == nil {
		return nil, fmt.Errorf("mcpgateway: missing read params")
	}
	uri := req.Params.URI
	raw, err := g.manager.ReadResource(ctx, uri)
	if err != nil {
		if errors.Is(err, faults.ErrNotFound) {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		return nil, err
	}
	var result mcp.ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcpgateway: malformed resources/read result for %q: %w", uri, err)
	}
	for _, c := range result.Contents {
		if c != nil {
			c.URI = uri
		}
	}
	return &result, nil
}

// toCallToolResult passes downstream tool results through unchanged and wraps
// everything else (local results, plans) as structured content.
func toCallToolResult(res *federation.RouteResult) (*mcp.CallToolResult, error) {
	if res.Mode == federation.ModeExecute {
		if result, ok := decodeToolResult(res.Execution); ok {
			return result, nil
		}
		return structuredResult(res.Execution), nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return structuredResult(raw), nil
}

func decodeToolResult(raw json.RawMessage) (*mcp.CallToolResult, bool) {
	var envelope struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Content) == 0 {
		return nil, false
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func structuredResult(raw json.RawMessage) *mcp.CallToolResult {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		result.StructuredContent = json.RawMessage(trimmed)
	}
	return result
}

func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func (g *Gateway) syncContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if g.opts.SyncTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, g.opts.SyncTimeout)
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
