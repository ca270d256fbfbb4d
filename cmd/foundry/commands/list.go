package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/draftfoundry/foundry/internal/printer"
	"github.com/draftfoundry/foundry/pkg/blackboard"
)

var (
	listJSON bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Long: `List every session the daemon knows about, oldest first.

For each session, displays:
  • Session ID
  • Status (running/halted/approved/errored)
  • Age since creation
  • The request text

Use --json for machine-readable output.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := newClient()

	infos, err := client.listSessions(ctx)
	if err != nil {
		return printer.Error(
			"Failed to list sessions",
			err.Error(),
			[]string{"Check that foundryd is running and reachable at " + serverURL},
		)
	}

	if len(infos) == 0 {
		if listJSON {
			fmt.Println("[]")
		} else {
			fmt.Println("No sessions found.")
			fmt.Println()
			fmt.Println("Run 'foundry create <request>' to start one.")
		}
		return nil
	}

	if listJSON {
		outputJSON(infos)
	} else {
		outputTable(infos)
	}
	return nil
}

func outputJSON(infos []*blackboard.SessionInfo) {
	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func outputTable(infos []*blackboard.SessionInfo) {
	// Print header
	fmt.Printf("%-38s %-10s %-10s %s\n", "SESSION", "STATUS", "AGE", "REQUEST")

	// Print rows
	for _, info := range infos {
		request := info.Request
		if len(request) > 50 {
			request = request[:47] + "..."
		}

		age := formatDuration(time.Since(time.UnixMilli(info.StartedAtMs)))
		fmt.Printf("%-38s %-10s %-10s %s\n", info.SessionID, info.Status, age, request)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour

	minutes := d / time.Minute
	d -= minutes * time.Minute

	seconds := d / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	} else {
		return fmt.Sprintf("%ds", seconds)
	}
}
