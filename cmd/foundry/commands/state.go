package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/draftfoundry/foundry/internal/printer"
	"github.com/draftfoundry/foundry/pkg/blackboard"
)

var (
	stateJSON bool
)

var stateCmd = &cobra.Command{
	Use:   "state <session-id>",
	Short: "Show a session's current state",
	Long: `Show the session's blackboard: draft progress, per-axis review
results, deliberation status and any questions pending at the human
gate.

Use --json to dump the full state record.`,
	Args: cobra.ExactArgs(1),
	RunE: runState,
}

func init() {
	stateCmd.Flags().BoolVar(&stateJSON, "json", false, "Output the full state in JSON format")
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := newClient()

	state, err := client.getState(ctx, args[0])
	if err != nil {
		if httpStatus(err) == 404 {
			return printer.Error(
				"Session not found",
				fmt.Sprintf("No session with ID %s exists on the daemon.", args[0]),
				[]string{"Run 'foundry list' to see known sessions"},
			)
		}
		return printer.Error("Failed to fetch session state", err.Error(), nil)
	}

	if stateJSON {
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printState(state)
	return nil
}

func printState(state *blackboard.State) {
	printer.Header("Session %s\n", state.SessionID)
	printer.Info("Request:    %s\n", state.Request)
	printer.Info("Iteration:  %d of %d\n", state.IterationCount, state.MaxIterations)
	printer.Info("Draft:      version %d\n", state.CurrentVersion)
	printer.Info("Phase:      %s\n", describePhase(state))

	if len(state.Reviews) > 0 {
		fmt.Println()
		printer.Header("Reviews\n")
		for _, axis := range blackboard.ReviewAxes() {
			review, ok := state.Reviews[axis]
			if !ok {
				printer.Info("  %-10s not run\n", axis)
				continue
			}
			marker := string(review.Status)
			if review.ReviewedVersion != state.CurrentVersion {
				marker += " (stale)"
			}
			printer.Info("  %-10s %s\n", axis, marker)
			for _, finding := range review.Findings {
				printer.Info("    - %s\n", finding)
			}
		}
	}

	if len(state.PendingQuestions) > 0 {
		fmt.Println()
		printer.Header("Pending questions\n")
		for _, q := range state.PendingQuestions {
			printer.Info("  • %s\n", q)
		}
	}

	if state.Draft != "" && !state.Approved {
		fmt.Println()
		printer.Header("Current draft\n")
		fmt.Println(state.Draft)
	}

	if state.Approved {
		fmt.Println()
		printer.Success("Final output:\n")
		fmt.Println(state.FinalOutput)
	}
}

func describePhase(state *blackboard.State) string {
	switch {
	case state.Approved:
		return "approved"
	case state.AwaitingApproval:
		return "awaiting human approval"
	case state.DebateComplete:
		return "deliberation complete"
	case state.CurrentVersion == 0:
		return "drafting"
	default:
		return "in review"
	}
}
