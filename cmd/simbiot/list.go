package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded deployments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := app.orchestrator.List(cmd.Context())
		if err != nil {
			printError(err)
			return fmt.Errorf("listing deployments: %w", err)
		}
		printJSON(map[string]any{"deployments": list})
		return nil
	},
}
