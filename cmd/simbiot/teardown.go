package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown NAME",
	Short: "Delete a deployment's endpoint, endpoint config and model",
	Long: `Teardown deletes the endpoint behind NAME and waits until it is gone,
then deletes its endpoint config and model. NAME may be a recorded
deployment name or a raw endpoint name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.orchestrator.TearDown(cmd.Context(), args[0]); err != nil {
			printError(err)
			return fmt.Errorf("teardown failed: %w", err)
		}
		printJSON(map[string]string{"status": "deleted", "name": args[0]})
		return nil
	},
}
