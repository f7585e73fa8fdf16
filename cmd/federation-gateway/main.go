// Command federation-gateway serves every tool of a set of downstream MCP
// servers from a single Streamable MCP endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "federation-gateway",
	Short: "MCP federation gateway",
	Long: `federation-gateway connects to downstream MCP servers over WebSocket,
stdio or streamable HTTP, merges their tools into one catalog and serves it as a
single MCP server. Failing servers are isolated behind per-server circuit
breakers.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "federation.yaml", "path to the YAML configuration file")
	rootCmd.AddCommand(serveCmd, validateCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
