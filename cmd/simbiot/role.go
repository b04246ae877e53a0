package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage the SageMaker execution role",
}

var roleEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Resolve the execution role, creating it if it does not exist",
	Long: `Ensure looks up the configured execution role and creates it, with the
SageMaker trust policy and the configured managed policy attached, when it
is missing. The resolved role is printed as JSON.`,
	Args: cobra.NoArgs,
	RunE: runRoleEnsure,
}

func init() {
	roleCmd.AddCommand(roleEnsureCmd)
}

func runRoleEnsure(cmd *cobra.Command, args []string) error {
	r, err := app.orchestrator.EnsureRole(cmd.Context())
	if err != nil {
		printError(err)
		return fmt.Errorf("ensuring role: %w", err)
	}
	printJSON(map[string]string{"status": "ok", "name": r.Name, "arn": r.ARN})
	return nil
}
