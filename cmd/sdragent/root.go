package main

import (
	"fmt"
	"os"

	"github.com/effective-security/sdragent/config"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

const appName = "sdragent"

// version is set at build time
var version = "dev"

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "cmd")

type globalFlags struct {
	configFile string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Lead qualification agent with federated MCP tools",
		Long:          "sdragent runs chat turns against the model with local and external MCP tools, persists qualified leads and serves the HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			xlog.SetFormatter(xlog.NewStringFormatter(cmd.ErrOrStderr()))
			if flags.debug {
				xlog.SetGlobalLogLevel(xlog.DEBUG)
			} else {
				xlog.SetGlobalLogLevel(xlog.INFO)
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", os.Getenv("SDRAGENT_CONFIG"), "configuration file, YAML or JSON")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logs")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(flags),
		newServeCmd(flags),
		newChatCmd(flags),
		newToolsCmd(flags),
		newMCPCmd(flags),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return err
			}
			s, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), s)
			return err
		},
	}
}
