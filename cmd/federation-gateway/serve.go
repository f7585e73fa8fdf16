package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-federation-go/pkg/config"
	"github.com/vikashloomba/mcp-federation-go/pkg/downstream"
	"github.com/vikashloomba/mcp-federation-go/pkg/federation"
	mcpgateway "github.com/vikashloomba/mcp-federation-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-federation-go/pkg/registry"
)

var (
	serveAddr         string
	serveJSONResponse bool
	serveLogJSONRPC   bool
	serveShutdownWait time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the downstream servers and serve the federated catalog",
	Example: `  # Serve with the settings from federation.yaml
  federation-gateway serve

  # Override the listen address and trace every downstream frame
  federation-gateway serve -c prod.yaml --addr :9000 --log-jsonrpc`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		logger := config.NewLogger(cfg.Logging, os.Stderr)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveJSONResponse, "json-response", false, "answer streamable requests with plain JSON instead of SSE")
	serveCmd.Flags().BoolVar(&serveLogJSONRPC, "log-jsonrpc", false, "log every JSON-RPC frame exchanged with SDK-backed servers at debug level")
	serveCmd.Flags().DurationVar(&serveShutdownWait, "shutdown-timeout", 10*time.Second, "how long to wait for downstream connections to close")
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg := registry.New(&registry.Options{Logger: logger})
	mgr := federation.New(cfg.Federation, reg, &federation.Options{
		Logger: logger,
		ClientOptions: &downstream.Options{
			Logger:     logger,
			LogJSONRPC: serveLogJSONRPC,
			ClientInfo: &mcp.Implementation{Name: "federation-gateway", Version: version},
		},
	})
	for _, tool := range federation.BuiltinTools(mgr) {
		if err := mgr.RegisterLocalTool(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Spec.Name, err)
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownWait)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Warn("federation shutdown incomplete", "error", err)
		}
	}()

	if err := mgr.Initialize(ctx); err != nil {
		return err
	}

	gateway, err := mcpgateway.NewGateway(mgr, &mcpgateway.Options{
		Implementation: &mcp.Implementation{Name: "federation-gateway", Title: "MCP Federation Gateway", Version: version},
		Addr:           cfg.Server.Addr,
		Path:           cfg.Server.Path,
		CORSOrigins:    cfg.Server.CORSOrigins,
		Logger:         logger,
		Streamable:     mcp.StreamableHTTPOptions{JSONResponse: serveJSONResponse},
	})
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	defer gateway.Close()

	opts := gateway.Options()
	logger.Info("gateway serving Streamable MCP", "addr", opts.Addr, "path", opts.Path, "tools", reg.Len())
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("gateway server stopped: %w", err)
	}
	return nil
}
