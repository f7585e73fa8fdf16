package mcpgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vikashloomba/mcp-federation-go/pkg/config"
	"github.com/vikashloomba/mcp-federation-go/pkg/federation"
	"github.com/vikashloomba/mcp-federation-go/pkg/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// docsBackend is a minimal MCP server speaking JSON-RPC over WebSocket.
type docsBackend struct {
	URL   string
	calls atomic.Int32
}

func startDocsBackend(t *testing.T) *docsBackend {
	t.Helper()
	b := &docsBackend{}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID     json.RawMessage `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if len(req.ID) == 0 {
				continue
			}
			reply := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			switch req.Method {
			case "initialize":
				reply["result"] = map[string]any{
					"protocolVersion": "2024-11-05",
					"capabilities":    map[string]any{"tools": map[string]any{}},
					"serverInfo":      map[string]any{"name": "docs", "version": "1.0.0"},
				}
			case "tools/list":
				reply["result"] = map[string]any{"tools": []any{map[string]any{
					"name":        "search",
					"description": "Search the documentation",
					"inputSchema": map[string]any{
						"type":       "object",
						"properties": map[string]any{"query": map[string]any{"type": "string"}},
						"required":   []string{"query"},
					},
				}}}
			case "tools/call":
				b.calls.Add(1)
				var p struct {
					Name      string         `json:"name"`
					Arguments map[string]any `json:"arguments"`
				}
				_ = json.Unmarshal(req.Params, &p)
				reply["result"] = map[string]any{"content": []any{map[string]any{
					"type": "text",
					"text": fmt.Sprintf("%s:%v", p.Name, p.Arguments["query"]),
				}}}
			case "resources/list":
				reply["result"] = map[string]any{"resources": []any{map[string]any{
					"uri": "file:///readme.md", "name": "readme", "mimeType": "text/plain",
				}}}
			case "resources/read":
				var p struct {
					URI string `json:"uri"`
				}
				_ = json.Unmarshal(req.Params, &p)
				reply["result"] = map[string]any{"contents": []any{map[string]any{
					"uri": p.URI, "mimeType": "text/plain", "text": "hello from " + p.URI,
				}}}
			default:
				reply["error"] = map[string]any{"code": -32601, "message": "Method not found"}
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	b.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return b
}

// newTestManager builds an initialized manager with the builtin local tools
// and the given WebSocket backends, keyed by id.
func newTestManager(t *testing.T, backends map[string]string) *federation.Manager {
	t.Helper()
	settings := config.FederationSettings{
		Enabled:                    true,
		ConnectionTimeoutMS:        2000,
		MaxRetries:                 1,
		ToolCacheTTLSeconds:        60,
		CircuitBreakerThreshold:    3,
		CircuitBreakerResetSeconds: 60,
		BackoffInitialMS:           10,
		BackoffMaxMS:               100,
	}
	for id, url := range backends {
		settings.Servers = append(settings.Servers, config.ServerDescriptor{
			ID:        id,
			URL:       url,
			Transport: config.TransportWebSocket,
			Enabled:   true,
			TimeoutMS: 2000,
		})
	}
	logger := discardLogger()
	reg := registry.New(&registry.Options{Logger: logger})
	mgr := federation.New(settings, reg, &federation.Options{Logger: logger})
	for _, tool := range federation.BuiltinTools(mgr) {
		if err := mgr.RegisterLocalTool(tool); err != nil {
			t.Fatalf("RegisterLocalTool(%s): %v", tool.Spec.Name, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return mgr
}

func newTestGateway(t *testing.T, mgr *federation.Manager, opts *Options) *Gateway {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	opts.Logger = discardLogger()
	gateway, err := NewGateway(mgr, opts)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	t.Cleanup(gateway.Close)
	return gateway
}
