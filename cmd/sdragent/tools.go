package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/effective-security/sdragent/catalog"
	"github.com/effective-security/sdragent/config"
	"github.com/spf13/cobra"
)

func newToolsCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools available to the model",
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

			if err = a.connectServers(ctx); err != nil {
				return err
			}
			registry, err := a.catalog.Build(ctx)
			if err != nil {
				return err
			}
			return writeTools(cmd, registry.Tools(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the tools as JSON")
	return cmd
}

func writeTools(cmd *cobra.Command, list []catalog.ToolDescriptor, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.NamespacedName, t.Source, t.Description)
	}
	return w.Flush()
}
