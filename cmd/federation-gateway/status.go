package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-federation-go/pkg/federation"
)

var (
	statusURL     string
	statusTimeout time.Duration
	statusJSON    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the backends of a running gateway",
	Example: `  federation-gateway status --url http://localhost:8700
  federation-gateway status --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(statusURL, "/")+"/backends", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("query gateway: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("query gateway: unexpected status %s", resp.Status)
		}

		var body struct {
			Backends []federation.BackendStatus `json:"backends"`
			Metrics  federation.Metrics         `json:"metrics"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode gateway status: %w", err)
		}
		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(body)
		}
		return printStatus(cmd, body.Backends, body.Metrics)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:8700", "base URL of the running gateway")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "request timeout")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status document")
}

func printStatus(cmd *cobra.Command, backends []federation.BackendStatus, m federation.Metrics) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "servers: %d connected / %d configured, open circuits: %d, forwarded calls: %d\n",
		m.ActiveConnections, m.TotalServers, m.OpenCircuits, m.ToolCallsForwarded)

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTRANSPORT\tCONNECTED\tTOOLS\tFAILURES\tCIRCUIT")
	for _, b := range backends {
		circuit := "closed"
		if b.Circuit.IsOpen(now) {
			circuit = "open for " + b.Circuit.OpenUntil.Sub(now).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%s\n", b.ID, b.Transport, b.Connected, b.ToolCount, b.Circuit.FailureCount, circuit)
	}
	return w.Flush()
}
