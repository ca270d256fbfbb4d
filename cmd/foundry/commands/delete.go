package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/draftfoundry/foundry/internal/printer"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Long: `Delete a session from the daemon. A running session is stopped
first; its checkpoint and registry entry are removed permanently.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := newClient()

	if err := client.deleteSession(ctx, args[0]); err != nil {
		if httpStatus(err) == 404 {
			return printer.Error(
				"Session not found",
				fmt.Sprintf("No session with ID %s exists on the daemon.", args[0]),
				[]string{"Run 'foundry list' to see known sessions"},
			)
		}
		return printer.Error("Failed to delete session", err.Error(), nil)
	}

	printer.Success("Session %s deleted.\n", args[0])
	return nil
}
