package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/draftfoundry/foundry/internal/printer"
	"github.com/draftfoundry/foundry/pkg/blackboard"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a session's event stream",
	Long: `Follow a session's event stream until it reaches the human gate,
completes, or fails.

Stage activity is printed as it happens. When the session halts for
approval, the pending questions are shown along with the approve
command to run next.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := newClient()

	if err := followSession(ctx, client, args[0]); err != nil {
		return printer.Error("Failed to watch session", err.Error(), nil)
	}
	return nil
}

// followSession prints stream events until a terminal event arrives.
func followSession(ctx context.Context, client *apiClient, sessionID string) error {
	return client.stream(ctx, sessionID, func(event *blackboard.Event) bool {
		switch event.Kind {
		case blackboard.EventContentDelta:
			printer.Info("%s\n", event.Content)
			return true

		case blackboard.EventStateSnapshot:
			// The snapshot may already be terminal (late join).
			if event.State == nil {
				return true
			}
			if event.State.Approved {
				printer.Success("Session already approved.\n")
				return false
			}
			if event.State.AwaitingApproval {
				printHalted(sessionID, event.State.PendingQuestions)
				return false
			}
			return true

		case blackboard.EventHalted:
			printHalted(sessionID, event.Questions)
			return false

		case blackboard.EventCompleted:
			printer.Success("Session approved. Final output:\n")
			fmt.Println(event.FinalOutput)
			return false

		case blackboard.EventError:
			printer.Warning("Session failed (%s): %s\n", event.ErrorKind, event.Message)
			return false

		default:
			return true
		}
	})
}

func printHalted(sessionID string, questions []string) {
	printer.Header("Session halted for human review\n")
	for _, q := range questions {
		printer.Info("  • %s\n", q)
	}
	printer.Info("\nApprove with: foundry approve %s\n", sessionID)
}
