package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/draftfoundry/foundry/internal/printer"
)

var (
	approveEdit     string
	approveFeedback string
)

var approveCmd = &cobra.Command{
	Use:   "approve <session-id>",
	Short: "Approve a halted session",
	Long: `Approve a session that is parked at the human gate, finalizing its
output.

By default the current draft becomes the final output. Pass --edit to
replace it with your own text; the edit is recorded as a new draft
version attributed to you. Feedback is stored alongside the approval.

A session that is not awaiting approval is rejected with no changes.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func init() {
	approveCmd.Flags().StringVar(&approveEdit, "edit", "", "Replace the draft with this text before finalizing")
	approveCmd.Flags().StringVar(&approveFeedback, "feedback", "", "Reviewer feedback to record with the approval")
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := newClient()

	state, err := client.approve(ctx, args[0], approveEdit, approveFeedback)
	if err != nil {
		switch httpStatus(err) {
		case 404:
			return printer.Error(
				"Session not found",
				fmt.Sprintf("No session with ID %s exists on the daemon.", args[0]),
				[]string{"Run 'foundry list' to see known sessions"},
			)
		case 409:
			return printer.Error(
				"Session is not awaiting approval",
				"Only a session parked at the human gate can be approved.",
				[]string{
					"Run 'foundry state " + args[0] + "' to see where the session is",
					"Wait for it to halt, then approve again",
				},
			)
		}
		return printer.Error("Failed to approve session", err.Error(), nil)
	}

	printer.Success("Session approved.\n")
	fmt.Println()
	printer.Header("Final output\n")
	fmt.Println(state.FinalOutput)
	return nil
}
