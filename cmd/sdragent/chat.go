package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/effective-security/sdragent/config"
	"github.com/effective-security/sdragent/engine"
	"github.com/spf13/cobra"
)

type chatFlags struct {
	sessionID string
	fork      bool
	model     string
	system    string
	asJSON    bool
}

func newChatCmd(flags *globalFlags) *cobra.Command {
	cf := &chatFlags{}

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Run a single chat turn",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			res, err := a.engine.ProcessTurn(ctx, &engine.TurnRequest{
				UserMessage:  strings.Join(args, " "),
				SystemPrompt: cf.system,
				Model:        cf.model,
				SessionID:    cf.sessionID,
				ForkSession:  cf.fork,
			})
			if err != nil {
				return err
			}
			return writeTurn(cmd, res, cf.asJSON)
		},
	}
	cmd.Flags().StringVar(&cf.sessionID, "session", "", "session to resume")
	cmd.Flags().BoolVar(&cf.fork, "fork", false, "run the turn in a copy of the session")
	cmd.Flags().StringVar(&cf.model, "model", "", "model, overrides the configuration")
	cmd.Flags().StringVar(&cf.system, "system", "", "system prompt, overrides the configuration")
	cmd.Flags().BoolVar(&cf.asJSON, "json", false, "print the turn as JSON")
	return cmd
}

func writeTurn(cmd *cobra.Command, res *engine.TurnResponse, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintln(out, res.Content)
	for _, use := range res.ToolUses {
		fmt.Fprintf(out, "tool: %s %s\n", use.Tool, use.Input)
	}
	if res.Persisted {
		fmt.Fprintln(out, "ranking: persisted")
	}
	_, err := fmt.Fprintf(out, "session: %s\n", res.SessionID)
	return err
}
