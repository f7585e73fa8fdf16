package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-federation-go/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file and list the downstream servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		f := cfg.Federation
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (federation enabled: %t, %d servers, %d enabled)\n",
			configPath, f.Enabled, len(f.Servers), len(f.EnabledServers()))

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTRANSPORT\tTARGET\tENABLED\tTIMEOUT")
		for _, s := range f.Servers {
			target := s.URL
			if s.IsStdio() {
				target = s.Command
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", s.ID, s.DisplayName(), s.Transport, target, s.Enabled, s.Timeout())
		}
		return w.Flush()
	},
}
