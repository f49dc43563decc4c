package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/config"
)

// newRootCmd builds the command tree. Each call returns fresh commands so
// tests can execute them independently.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "mqttroute",
		Short: "Route MQTT messages to handlers by topic template",
		Long: `mqttroute subscribes to an MQTT broker on behalf of declared routes and
dispatches every inbound message to the routes whose topic templates match.

Templates use {name} placeholders for single topic levels, for example
"rooms/{room}/temperature", alongside the usual + and # wildcards.

Examples:
  # Run the router
  mqttroute serve --config configs/config.yaml

  # Check which variables a template extracts from a topic
  mqttroute match "devices/{id}/state" devices/42/state --number id

  # Show the SUBSCRIBE plan each client would send
  mqttroute plan`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(), "configuration file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newMatchCmd(),
		newPlanCmd(load),
		newTokenCmd(load),
		newHashPasswordCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mqttroute %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
