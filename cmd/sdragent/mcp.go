package main

import (
	"github.com/effective-security/sdragent/config"
	"github.com/effective-security/sdragent/mcpserve"
	"github.com/spf13/cobra"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the local tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := wireApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := mcpserve.New(version, a.local...)
			if err != nil {
				return err
			}
			return mcpserve.Serve(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
